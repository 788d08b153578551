package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/engine/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

type fixture struct {
	ctx         context.Context
	persister   *store.Memory
	store       *engine.LedgerStore
	ledger      *engine.RewardLedger
	sessions    *engine.SessionController
	withdrawals *engine.WithdrawalWorkflow
	mod         *engine.Moderation
	viewer      *fakeViewer
	admin       engine.AdminActor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewMemory())
}

func newFixtureWith(t *testing.T, persister *store.Memory) *fixture {
	t.Helper()
	ctx := context.Background()

	var (
		mu  sync.Mutex
		seq int
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	clock := func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }

	ls, err := engine.OpenLedgerStore(ctx, persister, engine.DefaultSettings(),
		engine.WithClock(clock), engine.WithIDGenerator(ids))
	require.NoError(t, err)

	f := &fixture{
		ctx:       ctx,
		persister: persister,
		store:     ls,
		ledger:    engine.NewRewardLedger(ls),
		mod:       engine.NewModeration(ls),
		viewer:    newFakeViewer(),
	}
	f.sessions = engine.NewSessionController(ls, f.ledger, f.viewer)
	f.withdrawals = engine.NewWithdrawalWorkflow(ls, f.ledger)

	_, err = f.mod.EnsureAdmin(ctx, "admin", "admin-hash")
	require.NoError(t, err)
	admin, err := ls.UserByUsername("admin")
	require.NoError(t, err)
	f.admin = engine.AdminActor{ID: admin.ID}
	return f
}

func (f *fixture) newUser(t *testing.T, name string) engine.UserID {
	t.Helper()
	u, err := f.mod.CreateUser(f.ctx, f.admin, name, name+"-hash", engine.RoleUser)
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) newTask(t *testing.T, reward string, duration int) engine.TaskID {
	t.Helper()
	task, err := f.mod.CreateTask(f.ctx, f.admin, engine.TaskDraft{
		URL:             "https://ads.example.com/" + reward,
		Reward:          money(reward),
		DurationSeconds: duration,
	})
	require.NoError(t, err)
	return task.ID
}

// fund credits amount to the user through a dedicated completed task,
// so the ledger invariant holds for every test balance.
func (f *fixture) fund(t *testing.T, userID engine.UserID, amount string) {
	t.Helper()
	taskID := f.newTask(t, amount, 1)
	_, err := f.ledger.CreditCompletion(f.ctx, userID, taskID)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID engine.UserID) decimal.Decimal {
	t.Helper()
	b, err := f.store.Balance(userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) requireBalanced(t *testing.T, userID engine.UserID) {
	t.Helper()
	rec, err := f.ledger.Reconcile(f.ctx, userID)
	require.NoError(t, err)
	require.True(t, rec.Balanced(), "balance %s does not match replayed %s", rec.Balance, rec.Replayed)
}

func money(s string) decimal.Decimal {
	return engine.MustMoney(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// FAKE VIEWING SURFACE
// =============================================================================

type fakeViewer struct {
	mu      sync.Mutex
	seq     int
	open    map[engine.Handle]bool
	opened  []string
	closed  []engine.Handle
	openErr error
}

func newFakeViewer() *fakeViewer {
	return &fakeViewer{open: make(map[engine.Handle]bool)}
}

func (v *fakeViewer) Open(_ context.Context, url string) (engine.Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openErr != nil {
		return "", v.openErr
	}
	v.seq++
	h := engine.Handle(fmt.Sprintf("surface-%d", v.seq))
	v.open[h] = true
	v.opened = append(v.opened, url)
	return h, nil
}

func (v *fakeViewer) IsOpen(h engine.Handle) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open[h]
}

func (v *fakeViewer) Close(h engine.Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open[h] = false
	v.closed = append(v.closed, h)
}

// userClosed simulates the participant closing the surface.
func (v *fakeViewer) userClosed(h engine.Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open[h] = false
}
