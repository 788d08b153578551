package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/task-ledger/engine"
)

// =============================================================================
// USERS
// =============================================================================

func TestRegister_StartsPending(t *testing.T) {
	f := newFixture(t)

	u, err := f.mod.Register(f.ctx, "carol", "hash")
	require.NoError(t, err)

	assert.Equal(t, engine.UserPending, u.Status)
	assert.Equal(t, engine.RoleUser, u.Role)
	requireMoney(t, "0", u.Balance)
	assert.Equal(t, 1, f.mod.Stats(f.admin).PendingApprovals)
}

func TestRegister_Rejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.mod.Register(f.ctx, "carol", "hash")
	require.NoError(t, err)

	_, err = f.mod.Register(f.ctx, "carol", "other")
	assert.ErrorIs(t, err, engine.ErrDuplicateUsername)

	_, err = f.mod.Register(f.ctx, "  ", "hash")
	assert.ErrorIs(t, err, engine.ErrInvalidUser)

	_, err = f.mod.Register(f.ctx, "dave", "")
	assert.ErrorIs(t, err, engine.ErrInvalidUser)
}

func TestEnsureAdmin_OnlyOnce(t *testing.T) {
	f := newFixture(t)

	created, err := f.mod.EnsureAdmin(f.ctx, "root", "hash")
	require.NoError(t, err)
	assert.False(t, created, "fixture already created an admin")

	_, err = f.store.UserByUsername("root")
	assert.ErrorIs(t, err, engine.ErrUnknownUser)
}

func TestApproveAndBlock(t *testing.T) {
	f := newFixture(t)
	carol, err := f.mod.Register(f.ctx, "carol", "hash")
	require.NoError(t, err)

	require.NoError(t, f.mod.ApproveUser(f.ctx, f.admin, carol.ID))
	u, err := f.store.User(carol.ID)
	require.NoError(t, err)
	assert.True(t, u.IsApproved())

	require.NoError(t, f.mod.BlockUser(f.ctx, f.admin, carol.ID))
	u, err = f.store.User(carol.ID)
	require.NoError(t, err)
	assert.False(t, u.IsApproved())

	assert.ErrorIs(t, f.mod.ApproveUser(f.ctx, f.admin, "ghost"), engine.ErrUnknownUser)
}

func TestAdminCannotRemoveThemselves(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.mod.BlockUser(f.ctx, f.admin, f.admin.ID), engine.ErrForbidden)
	_, err := f.mod.DeleteUser(f.ctx, f.admin, f.admin.ID)
	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestDeleteUser_KeepsHistory(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")
	_, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	// WHEN: Alice is deleted
	handle, err := f.mod.DeleteUser(f.ctx, f.admin, alice)
	require.NoError(t, err)
	assert.Empty(t, handle, "no session was running")

	// THEN: She is gone, her withdrawal and completions are not
	_, err = f.store.User(alice)
	assert.ErrorIs(t, err, engine.ErrUnknownUser)
	assert.Len(t, f.store.ListWithdrawals(engine.WithdrawalFilter{UserID: alice}), 1)
	assert.Len(t, f.store.ListCompletions(alice), 1)
}

// =============================================================================
// TASKS
// =============================================================================

func TestDeleteUser_EndsRunningSession(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	task := f.newTask(t, "5.00", 10)
	started, err := f.sessions.StartSession(f.ctx, alice, task)
	require.NoError(t, err)

	// WHEN: Alice is deleted mid-session
	handle, err := f.mod.DeleteUser(f.ctx, f.admin, alice)
	require.NoError(t, err)

	// THEN: Her surface handle comes back so it can be closed
	assert.Equal(t, started.Handle, handle)
	assert.Empty(t, f.store.ActiveSessionUsers())
}

func TestCreateTask_Validation(t *testing.T) {
	tests := []struct {
		name  string
		draft engine.TaskDraft
		field string
	}{
		{"missing url", engine.TaskDraft{Reward: money("1"), DurationSeconds: 5}, "url"},
		{"zero reward", engine.TaskDraft{URL: "https://x", Reward: money("0"), DurationSeconds: 5}, "reward"},
		{"zero duration", engine.TaskDraft{URL: "https://x", Reward: money("1"), DurationSeconds: 0}, "duration_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.mod.CreateTask(f.ctx, f.admin, tt.draft)

			var verr *engine.TaskValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, engine.ErrInvalidTask)
			assert.Empty(t, f.store.ListTasks())
		})
	}
}

func TestEditTask_RunningSessionKeepsCountdown(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	task := f.newTask(t, "5.00", 3)
	_, err := f.sessions.StartSession(f.ctx, alice, task)
	require.NoError(t, err)

	// WHEN: The duration changes while Alice is viewing
	edited, err := f.mod.EditTask(f.ctx, f.admin, task, engine.TaskDraft{
		URL: "https://ads.example.com/edited", Reward: money("7.00"), DurationSeconds: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, edited.DurationSeconds)

	// THEN: Her countdown is unchanged and the reward paid is the current one
	sess, err := f.store.ActiveSession(alice)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.SecondsRemaining)

	var res engine.TickResult
	for i := 0; i < 3; i++ {
		res, err = f.sessions.Tick(f.ctx, alice)
		require.NoError(t, err)
	}
	assert.Equal(t, engine.OutcomeCompleted, res.Outcome)
	requireMoney(t, "7.00", res.Reward)
}

func TestEditAndDeleteUnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.mod.EditTask(f.ctx, f.admin, "missing", engine.TaskDraft{
		URL: "https://x", Reward: money("1"), DurationSeconds: 1,
	})
	assert.ErrorIs(t, err, engine.ErrUnknownTask)
	assert.ErrorIs(t, f.mod.DeleteTask(f.ctx, f.admin, "missing"), engine.ErrUnknownTask)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestUpdateSettings(t *testing.T) {
	t.Run("swaps inverted limits", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.mod.UpdateSettings(f.ctx, f.admin, engine.Settings{
			MinWithdrawal: money("500"), MaxWithdrawal: money("20"), AppName: "Ads",
		})
		require.NoError(t, err)

		requireMoney(t, "20", s.MinWithdrawal)
		requireMoney(t, "500", s.MaxWithdrawal)
		assert.Equal(t, "Ads", f.store.Settings().AppName)
		assert.Equal(t, engine.DefaultLogoURL, f.store.Settings().LogoURL)
	})

	t.Run("rejects negative limits", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mod.UpdateSettings(f.ctx, f.admin, engine.Settings{
			MinWithdrawal: money("-1"), MaxWithdrawal: money("20"),
		})
		assert.ErrorIs(t, err, engine.ErrInvalidSettings)
		requireMoney(t, "50", f.store.Settings().MinWithdrawal)
	})
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestStats(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	_, err := f.mod.Register(f.ctx, "carol", "hash")
	require.NoError(t, err)
	f.fund(t, alice, "300.00")

	w1, err := f.withdrawals.Submit(f.ctx, alice, paypal("100"))
	require.NoError(t, err)
	_, err = f.withdrawals.Submit(f.ctx, alice, paypal("50"))
	require.NoError(t, err)
	_, err = f.withdrawals.Decide(f.ctx, f.admin, w1.ID, engine.DecisionApprove)
	require.NoError(t, err)

	st := f.mod.Stats(f.admin)

	assert.Equal(t, 3, st.TotalUsers)
	assert.Equal(t, 1, st.PendingApprovals)
	assert.Equal(t, 1, st.TotalTasks)
	assert.Equal(t, 1, st.PendingWithdrawals)
	requireMoney(t, "50", st.PendingAmount)
	requireMoney(t, "100", st.PaidOut)
}

func TestActorFor(t *testing.T) {
	admin := engine.ActorFor(&engine.User{ID: "a", Role: engine.RoleAdmin})
	member := engine.ActorFor(&engine.User{ID: "m", Role: engine.RoleUser})

	_, isAdmin := admin.(engine.AdminActor)
	assert.True(t, isAdmin)
	_, isMember := member.(engine.MemberActor)
	assert.True(t, isMember)
	assert.Equal(t, engine.RoleUser, member.ActorRole())
}

func TestChangePasswordHash(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")

	// A member changes their own password
	require.NoError(t, f.mod.ChangePasswordHash(f.ctx, engine.MemberActor{ID: alice}, alice, "new-hash"))
	u, err := f.store.User(alice)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.PasswordHash)

	// but not someone else's
	err = f.mod.ChangePasswordHash(f.ctx, engine.MemberActor{ID: alice}, bob, "x")
	assert.ErrorIs(t, err, engine.ErrForbidden)

	// An admin may change anyone's
	require.NoError(t, f.mod.ChangePasswordHash(f.ctx, f.admin, bob, "reset-hash"))

	assert.ErrorIs(t, f.mod.ChangePasswordHash(f.ctx, f.admin, bob, ""), engine.ErrInvalidUser)
}
