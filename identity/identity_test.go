package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/engine/store"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	ctx   context.Context
	store *engine.LedgerStore
	mod   *engine.Moderation
	svc   *Service
	now   time.Time
	admin engine.AdminActor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	ls, err := engine.OpenLedgerStore(ctx, store.NewMemory(), engine.DefaultSettings())
	require.NoError(t, err)

	env := &testEnv{ctx: ctx, store: ls, mod: engine.NewModeration(ls), now: time.Now()}
	env.svc, err = NewService(ls, env.mod, "test-secret", time.Hour,
		WithBcryptCost(bcrypt.MinCost),
		WithClock(func() time.Time { return env.now }))
	require.NoError(t, err)

	created, err := env.svc.EnsureAdmin(ctx, "admin", "admin")
	require.NoError(t, err)
	require.True(t, created)
	admin, err := ls.UserByUsername("admin")
	require.NoError(t, err)
	env.admin = engine.AdminActor{ID: admin.ID}
	return env
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(nil, nil, " ", time.Hour)
	assert.Error(t, err)

	_, err = NewService(nil, nil, "secret", 0)
	assert.Error(t, err)
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t)

	// GIVEN: A freshly registered user
	u, err := env.svc.Register(env.ctx, "carol", "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", u.PasswordHash, "password is never stored in clear")

	// WHEN: She logs in before approval
	_, err = env.svc.Login(env.ctx, "carol", "hunter2")

	// THEN: Refused until an admin approves her
	assert.ErrorIs(t, err, ErrNotApproved)

	require.NoError(t, env.mod.ApproveUser(env.ctx, env.admin, u.ID))
	sess, err := env.svc.Login(env.ctx, "carol", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, u.ID, sess.User.ID)
	assert.WithinDuration(t, env.now.Add(time.Hour), sess.ExpiresAt, time.Second)
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(env.ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Login(env.ctx, "nobody", "admin")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(env.ctx, "carol", "abc")

	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = env.store.UserByUsername("carol")
	assert.ErrorIs(t, err, engine.ErrUnknownUser)
}

func TestAuthenticate_ResolvesActor(t *testing.T) {
	env := newTestEnv(t)
	member, err := env.svc.CreateUser(env.ctx, env.admin, "dave", "secret", engine.RoleUser)
	require.NoError(t, err)

	adminSess, err := env.svc.Login(env.ctx, "admin", "admin")
	require.NoError(t, err)
	memberSess, err := env.svc.Login(env.ctx, "dave", "secret")
	require.NoError(t, err)

	actor, err := env.svc.Authenticate(adminSess.Token)
	require.NoError(t, err)
	assert.Equal(t, env.admin, actor)

	actor, err = env.svc.Authenticate(memberSess.Token)
	require.NoError(t, err)
	assert.Equal(t, engine.MemberActor{ID: member.ID}, actor)
}

func TestAuthenticate_BlockedUserLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.svc.CreateUser(env.ctx, env.admin, "dave", "secret", engine.RoleUser)
	require.NoError(t, err)
	sess, err := env.svc.Login(env.ctx, "dave", "secret")
	require.NoError(t, err)

	// WHEN: The admin blocks Dave after he signed in
	require.NoError(t, env.mod.BlockUser(env.ctx, env.admin, u.ID))

	// THEN: His existing token stops working
	_, err = env.svc.Authenticate(sess.Token)
	assert.ErrorIs(t, err, ErrNotApproved)

	// AND: A deleted user's token is invalid
	_, err = env.mod.DeleteUser(env.ctx, env.admin, u.ID)
	require.NoError(t, err)
	_, err = env.svc.Authenticate(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.svc.Login(env.ctx, "admin", "admin")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := env.svc.Authenticate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewService(env.store, env.mod, "other-secret", time.Hour)
		require.NoError(t, err)
		_, err = other.Authenticate(sess.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		env.now = env.now.Add(2 * time.Hour)
		defer func() { env.now = env.now.Add(-2 * time.Hour) }()
		_, err := env.svc.Authenticate(sess.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   string(env.admin.ID),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = env.svc.Authenticate(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.svc.CreateUser(env.ctx, env.admin, "dave", "secret", engine.RoleUser)
	require.NoError(t, err)

	require.NoError(t, env.svc.ChangePassword(env.ctx, engine.MemberActor{ID: u.ID}, u.ID, "better-secret"))

	_, err = env.svc.Login(env.ctx, "dave", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(env.ctx, "dave", "better-secret")
	assert.NoError(t, err)
}
