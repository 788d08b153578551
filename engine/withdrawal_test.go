package engine_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/task-ledger/engine"
)

func paypal(amount string) engine.WithdrawalRequest {
	return engine.WithdrawalRequest{
		Amount:             money(amount),
		Method:             "paypal",
		DestinationAccount: "alice@example.com",
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_DebitsImmediately(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")

	// WHEN: Alice requests 60
	w, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	// THEN: The withdrawal is pending and the balance already reduced
	assert.Equal(t, engine.WithdrawalPending, w.Status)
	requireMoney(t, "60", w.Amount)
	requireMoney(t, "40.00", f.balance(t, alice))

	entries := f.store.Entries(alice)
	last := entries[len(entries)-1]
	assert.Equal(t, engine.EntryDebit, last.Kind)
	requireMoney(t, "-60", last.Amount)
	f.requireBalanced(t, alice)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     engine.WithdrawalRequest
		wantErr error
	}{
		{"zero amount", paypal("0"), engine.ErrInvalidAmount},
		{"negative amount", paypal("-10"), engine.ErrInvalidAmount},
		{"sub-cent amount", engine.WithdrawalRequest{
			Amount: decimal.RequireFromString("50.005"), Method: "paypal", DestinationAccount: "x",
		}, engine.ErrInvalidAmount},
		{"below minimum", paypal("49.99"), engine.ErrBelowMinimum},
		{"above maximum", paypal("10000.01"), engine.ErrAboveMaximum},
		{"no destination", engine.WithdrawalRequest{Amount: money("60"), Method: " ", DestinationAccount: ""}, engine.ErrMissingDestination},
		{"over balance", paypal("150"), engine.ErrInsufficientBalance},
		// Limits are checked before the balance.
		{"above maximum and over balance", paypal("20000"), engine.ErrAboveMaximum},
		{"below minimum without destination", engine.WithdrawalRequest{Amount: money("10")}, engine.ErrBelowMinimum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			alice := f.newUser(t, "alice")
			f.fund(t, alice, "100.00")
			saves := f.persister.Saves()

			_, err := f.withdrawals.Submit(f.ctx, alice, tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, engine.IsClientError(err))
			requireMoney(t, "100.00", f.balance(t, alice), "failed submit leaves balance alone")
			assert.Empty(t, f.store.ListWithdrawals(engine.WithdrawalFilter{UserID: alice}))
			assert.Equal(t, saves, f.persister.Saves())
		})
	}
}

func TestSubmit_StructuredErrors(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "80.00")

	_, err := f.withdrawals.Submit(f.ctx, alice, paypal("90"))
	var insufficient *engine.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	requireMoney(t, "80.00", insufficient.Available)
	requireMoney(t, "90", insufficient.Requested)

	_, err = f.withdrawals.Submit(f.ctx, alice, paypal("20"))
	var limit *engine.LimitError
	require.True(t, errors.As(err, &limit))
	assert.True(t, limit.Below)
	requireMoney(t, "50", limit.Limit)
}

func TestSubmit_FullBalance(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "75.00")

	_, err := f.withdrawals.Submit(f.ctx, alice, paypal("75"))
	require.NoError(t, err)
	requireMoney(t, "0", f.balance(t, alice))
}

func TestSubmit_RespectsUpdatedSettings(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")

	// GIVEN: The admin lowers the minimum to 5
	_, err := f.mod.UpdateSettings(f.ctx, f.admin, engine.Settings{
		MinWithdrawal: money("5"), MaxWithdrawal: money("500"),
	})
	require.NoError(t, err)

	// WHEN/THEN: A 10 withdrawal is now allowed
	_, err = f.withdrawals.Submit(f.ctx, alice, paypal("10"))
	assert.NoError(t, err)
}

// =============================================================================
// SCENARIO: two requests against one balance
// =============================================================================

func TestScenario_SecondRequestSeesReducedBalance(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")

	// GIVEN: A first request for 60 succeeded
	_, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	// WHEN: A second request for 60 arrives
	_, err = f.withdrawals.Submit(f.ctx, alice, paypal("60"))

	// THEN: It fails; the balance can never go negative
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)
	requireMoney(t, "40.00", f.balance(t, alice))
	assert.Len(t, f.store.ListWithdrawals(engine.WithdrawalFilter{UserID: alice}), 1)
}

func TestSubmit_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "500.00")

	// WHEN: 20 requests of 60 race each other
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.withdrawals.Submit(f.ctx, alice, paypal("60")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly floor(500/60) = 8 succeed
	assert.Equal(t, 8, succeeded)
	requireMoney(t, "20.00", f.balance(t, alice))
	f.requireBalanced(t, alice)
}

// =============================================================================
// DECIDE
// =============================================================================

func TestDecide_ApproveKeepsBalance(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")
	w, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	decided, err := f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionApprove)
	require.NoError(t, err)

	assert.Equal(t, engine.WithdrawalCompleted, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	assert.Equal(t, f.admin.ID, decided.DecidedBy)
	requireMoney(t, "40.00", f.balance(t, alice))
}

func TestScenario_RejectRefundsOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")

	// GIVEN: A pending 60 withdrawal
	w, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	// WHEN: The admin rejects it
	decided, err := f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionReject)
	require.NoError(t, err)

	// THEN: The amount is refunded
	assert.Equal(t, engine.WithdrawalRejected, decided.Status)
	requireMoney(t, "100.00", f.balance(t, alice))

	// WHEN: The admin rejects it again
	_, err = f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionReject)

	// THEN: Refused, no second refund
	assert.ErrorIs(t, err, engine.ErrNotPending)
	requireMoney(t, "100.00", f.balance(t, alice))
	f.requireBalanced(t, alice)
}

func TestDecide_Guards(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")
	w, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	_, err = f.withdrawals.Decide(f.ctx, f.admin, "missing", engine.DecisionApprove)
	assert.ErrorIs(t, err, engine.ErrUnknownWithdrawal)

	_, err = f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.Decision("maybe"))
	assert.ErrorIs(t, err, engine.ErrInvalidDecision)

	_, err = f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionApprove)
	require.NoError(t, err)

	_, err = f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionReject)
	assert.ErrorIs(t, err, engine.ErrNotPending)
	requireMoney(t, "40.00", f.balance(t, alice), "approved withdrawal cannot be refunded")
}

func TestDecide_RejectForDeletedUser(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	f.fund(t, alice, "100.00")
	w, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)

	// GIVEN: Alice was deleted while her request was pending
	_, err = f.mod.DeleteUser(f.ctx, f.admin, alice)
	require.NoError(t, err)

	// WHEN: The admin rejects the request
	decided, err := f.withdrawals.Decide(f.ctx, f.admin, w.ID, engine.DecisionReject)

	// THEN: The rejection is recorded even though nobody can be refunded
	require.NoError(t, err)
	assert.Equal(t, engine.WithdrawalRejected, decided.Status)
}

func TestListWithdrawals_Filters(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "alice")
	bob := f.newUser(t, "bob")
	f.fund(t, alice, "200.00")
	f.fund(t, bob, "200.00")

	wa, err := f.withdrawals.Submit(f.ctx, alice, paypal("60"))
	require.NoError(t, err)
	_, err = f.withdrawals.Submit(f.ctx, bob, paypal("70"))
	require.NoError(t, err)
	_, err = f.withdrawals.Decide(f.ctx, f.admin, wa.ID, engine.DecisionApprove)
	require.NoError(t, err)

	assert.Len(t, f.store.ListWithdrawals(engine.WithdrawalFilter{}), 2)
	assert.Len(t, f.store.ListWithdrawals(engine.WithdrawalFilter{UserID: alice}), 1)

	pending := f.store.ListWithdrawals(engine.WithdrawalFilter{Status: engine.WithdrawalPending})
	require.Len(t, pending, 1)
	assert.Equal(t, bob, pending[0].UserID)
}
