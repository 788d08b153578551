/*
moderation.go - Admin Moderation

PURPOSE:
  Direct mutations on store entities: user approval, task catalog and
  settings. No state machine beyond pending <-> approved for users.

DELETION:
  Deleting a user or task never cascades. Completion records, ledger
  entries and withdrawals that reference a deleted entity stay in place
  as orphans; readers render them as "deleted". Rewards already paid are
  untouched because completions carry their own reward snapshot.

REGISTRATION:
  Register is the only unauthenticated write. New users start pending
  and cannot sign in until an administrator approves them. EnsureAdmin
  creates the bootstrap administrator, which starts approved.

PASSWORDS:
  The engine stores PasswordHash as an opaque string. Hashing and
  verification belong to the identity package.
*/
package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Moderation performs administrator operations.
type Moderation struct {
	store *LedgerStore
}

func NewModeration(store *LedgerStore) *Moderation {
	return &Moderation{store: store}
}

// =============================================================================
// USERS
// =============================================================================

// Register creates a pending participant.
func (m *Moderation) Register(ctx context.Context, username, passwordHash string) (*User, error) {
	return m.addUser(ctx, username, passwordHash, RoleUser, UserPending)
}

// EnsureAdmin creates the bootstrap administrator unless an admin exists.
// Reports whether a user was created.
func (m *Moderation) EnsureAdmin(ctx context.Context, username, passwordHash string) (bool, error) {
	exists := false
	m.store.View(func(snap *Snapshot) {
		for _, u := range snap.Users {
			if u.IsAdmin() {
				exists = true
				return
			}
		}
	})
	if exists {
		return false, nil
	}
	if _, err := m.addUser(ctx, username, passwordHash, RoleAdmin, UserApproved); err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser adds an already-approved user.
func (m *Moderation) CreateUser(ctx context.Context, by AdminActor, username, passwordHash string, role Role) (*User, error) {
	if role != RoleAdmin && role != RoleUser {
		role = RoleUser
	}
	return m.addUser(ctx, username, passwordHash, role, UserApproved)
}

func (m *Moderation) addUser(ctx context.Context, username, passwordHash string, role Role, status UserStatus) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return nil, ErrInvalidUser
	}

	var created User
	err := m.store.Update(ctx, func(tx *Tx) error {
		if tx.userByName(username) != nil {
			return ErrDuplicateUsername
		}
		u := &User{
			ID:           UserID(tx.newID()),
			Username:     username,
			PasswordHash: passwordHash,
			Role:         role,
			Balance:      decimal.Zero,
			Status:       status,
			CreatedAt:    tx.Now(),
		}
		tx.snap.Users = append(tx.snap.Users, u)
		tx.touch()
		tx.emit(Event{Kind: EventUserRegistered, UserID: u.ID})
		created = *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ApproveUser lets a pending user sign in.
func (m *Moderation) ApproveUser(ctx context.Context, by AdminActor, id UserID) error {
	return m.setStatus(ctx, by, id, UserApproved, EventUserApproved)
}

// BlockUser returns a user to pending so they can no longer sign in.
func (m *Moderation) BlockUser(ctx context.Context, by AdminActor, id UserID) error {
	if by.ID == id {
		return ErrForbidden
	}
	return m.setStatus(ctx, by, id, UserPending, EventUserBlocked)
}

func (m *Moderation) setStatus(ctx context.Context, _ AdminActor, id UserID, status UserStatus, kind EventKind) error {
	return m.store.Update(ctx, func(tx *Tx) error {
		u, err := tx.user(id)
		if err != nil {
			return err
		}
		if u.Status == status {
			return nil
		}
		u.Status = status
		tx.touch()
		tx.emit(Event{Kind: kind, UserID: id})
		return nil
	})
}

// DeleteUser removes a user. History referencing the user is kept.
// A session the user was running ends without reward; its surface handle
// is returned so the caller can close it ("" when there was none).
func (m *Moderation) DeleteUser(ctx context.Context, by AdminActor, id UserID) (Handle, error) {
	if by.ID == id {
		return "", ErrForbidden
	}
	var handle Handle
	err := m.store.Update(ctx, func(tx *Tx) error {
		handle = ""
		u, err := tx.user(id)
		if err != nil {
			return err
		}
		if sess := u.ActiveSession; sess != nil {
			handle = sess.Handle
			tx.emit(Event{Kind: EventTaskAbandoned, UserID: id, TaskID: sess.TaskID})
		}
		kept := tx.snap.Users[:0]
		for _, u := range tx.snap.Users {
			if u.ID != id {
				kept = append(kept, u)
			}
		}
		tx.snap.Users = kept
		tx.touch()
		tx.emit(Event{Kind: EventUserDeleted, UserID: id})
		return nil
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// ChangePasswordHash replaces a user's password hash. Members may only
// change their own; administrators may change anyone's.
func (m *Moderation) ChangePasswordHash(ctx context.Context, by Actor, id UserID, passwordHash string) error {
	if passwordHash == "" {
		return ErrInvalidUser
	}
	if by.ActorRole() != RoleAdmin && by.ActorID() != id {
		return ErrForbidden
	}
	return m.store.Update(ctx, func(tx *Tx) error {
		u, err := tx.user(id)
		if err != nil {
			return err
		}
		u.PasswordHash = passwordHash
		tx.touch()
		tx.emit(Event{Kind: EventPasswordChanged, UserID: id})
		return nil
	})
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask adds a task to the catalog.
func (m *Moderation) CreateTask(ctx context.Context, by AdminActor, draft TaskDraft) (*Task, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}
	var created Task
	err := m.store.Update(ctx, func(tx *Tx) error {
		t := &Task{
			ID:              TaskID(tx.newID()),
			URL:             strings.TrimSpace(draft.URL),
			Reward:          Money(draft.Reward),
			DurationSeconds: draft.DurationSeconds,
			CreatedAt:       tx.Now(),
			UpdatedAt:       tx.Now(),
		}
		tx.snap.Tasks = append(tx.snap.Tasks, t)
		tx.touch()
		tx.emit(Event{Kind: EventTaskCreated, UserID: by.ID, TaskID: t.ID})
		created = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// EditTask replaces url, reward and duration. Past completions keep the
// reward they were paid; sessions already running keep their countdown.
func (m *Moderation) EditTask(ctx context.Context, by AdminActor, id TaskID, draft TaskDraft) (*Task, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}
	var edited Task
	err := m.store.Update(ctx, func(tx *Tx) error {
		t, err := tx.task(id)
		if err != nil {
			return err
		}
		t.URL = strings.TrimSpace(draft.URL)
		t.Reward = Money(draft.Reward)
		t.DurationSeconds = draft.DurationSeconds
		t.UpdatedAt = tx.Now()
		tx.touch()
		tx.emit(Event{Kind: EventTaskEdited, UserID: by.ID, TaskID: id})
		edited = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

// DeleteTask removes a task from the catalog.
func (m *Moderation) DeleteTask(ctx context.Context, by AdminActor, id TaskID) error {
	return m.store.Update(ctx, func(tx *Tx) error {
		if _, err := tx.task(id); err != nil {
			return err
		}
		kept := tx.snap.Tasks[:0]
		for _, t := range tx.snap.Tasks {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		tx.snap.Tasks = kept
		tx.touch()
		tx.emit(Event{Kind: EventTaskDeleted, UserID: by.ID, TaskID: id})
		return nil
	})
}

// =============================================================================
// SETTINGS
// =============================================================================

// UpdateSettings stores new limits and branding. Limits given in the
// wrong order are swapped.
func (m *Moderation) UpdateSettings(ctx context.Context, by AdminActor, s Settings) (Settings, error) {
	normalized, err := s.normalize()
	if err != nil {
		return Settings{}, err
	}
	err = m.store.Update(ctx, func(tx *Tx) error {
		tx.snap.Settings = normalized
		tx.touch()
		tx.emit(Event{Kind: EventSettingsUpdated, UserID: by.ID})
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return normalized, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Stats summarizes the store for the admin dashboard.
type Stats struct {
	TotalUsers         int
	PendingApprovals   int
	TotalTasks         int
	PendingWithdrawals int
	PendingAmount      decimal.Decimal
	PaidOut            decimal.Decimal
}

func (m *Moderation) Stats(_ AdminActor) Stats {
	st := Stats{PendingAmount: decimal.Zero, PaidOut: decimal.Zero}
	m.store.View(func(snap *Snapshot) {
		st.TotalUsers = len(snap.Users)
		for _, u := range snap.Users {
			if !u.IsApproved() {
				st.PendingApprovals++
			}
		}
		st.TotalTasks = len(snap.Tasks)
		for _, w := range snap.Withdrawals {
			switch w.Status {
			case WithdrawalPending:
				st.PendingWithdrawals++
				st.PendingAmount = st.PendingAmount.Add(w.Amount)
			case WithdrawalCompleted:
				st.PaidOut = st.PaidOut.Add(w.Amount)
			}
		}
	})
	return st
}
