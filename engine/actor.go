package engine

// Actor is the authenticated caller, resolved by the identity layer.
// The engine never re-derives a role from storage: operations that need
// administrator rights take an AdminActor, so the check happens at the
// call site's type, not through string comparison.
type Actor interface {
	ActorID() UserID
	ActorRole() Role
}

// AdminActor is an authenticated administrator.
type AdminActor struct {
	ID UserID
}

func (a AdminActor) ActorID() UserID { return a.ID }
func (a AdminActor) ActorRole() Role { return RoleAdmin }

// MemberActor is an authenticated participant.
type MemberActor struct {
	ID UserID
}

func (m MemberActor) ActorID() UserID { return m.ID }
func (m MemberActor) ActorRole() Role { return RoleUser }

var (
	_ Actor = AdminActor{}
	_ Actor = MemberActor{}
)

// ActorFor builds the actor variant matching the user's role.
func ActorFor(u *User) Actor {
	if u.IsAdmin() {
		return AdminActor{ID: u.ID}
	}
	return MemberActor{ID: u.ID}
}
