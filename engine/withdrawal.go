/*
withdrawal.go - Withdrawal Workflow

PURPOSE:
  Validates and records withdrawal requests and applies administrator
  decisions.

REQUEST FLOW:
  Submit ──▶ validate ──▶ debit balance ──▶ pending
                                              │
                             Decide(approve)  │  Decide(reject)
                                  ┌───────────┴───────────┐
                                  ▼                       ▼
                             completed               rejected + refund

DEBIT ON REQUEST:
  The amount leaves the balance when the request is submitted, not when
  it is approved. A second Submit runs after the first has committed
  (LedgerStore.Update serializes writers) and sees the reduced balance,
  so two requests can never jointly overdraw.

VALIDATION ORDER (first failure wins, nothing is mutated):
  1. amount > 0 and in minor units     ErrInvalidAmount
  2. amount >= settings.MinWithdrawal  ErrBelowMinimum
  3. amount <= settings.MaxWithdrawal  ErrAboveMaximum
  4. method or account present         ErrMissingDestination
  5. amount <= balance                 ErrInsufficientBalance

REFUND GUARD:
  Decide only acts on pending withdrawals, so the pending -> rejected
  transition (and its refund) happens at most once. A second Decide on
  the same id fails with ErrNotPending.
*/
package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// WithdrawalWorkflow handles submission and decisions.
type WithdrawalWorkflow struct {
	store  *LedgerStore
	ledger *RewardLedger
}

func NewWithdrawalWorkflow(store *LedgerStore, ledger *RewardLedger) *WithdrawalWorkflow {
	return &WithdrawalWorkflow{store: store, ledger: ledger}
}

// WithdrawalRequest is what a participant submits.
type WithdrawalRequest struct {
	Amount             decimal.Decimal
	Method             string
	DestinationAccount string
}

// Submit debits the user's balance and records a pending withdrawal.
func (wf *WithdrawalWorkflow) Submit(ctx context.Context, userID UserID, req WithdrawalRequest) (*Withdrawal, error) {
	var created Withdrawal
	err := wf.store.Update(ctx, func(tx *Tx) error {
		user, err := tx.user(userID)
		if err != nil {
			return err
		}
		amount, err := validateWithdrawal(req, tx.Settings(), user.Balance, userID)
		if err != nil {
			return err
		}

		id := WithdrawalID(tx.newID())
		if _, err := wf.ledger.debitForWithdrawal(tx, userID, amount, id); err != nil {
			return err
		}
		w := &Withdrawal{
			ID:                 id,
			UserID:             userID,
			Amount:             amount,
			Method:             strings.TrimSpace(req.Method),
			DestinationAccount: strings.TrimSpace(req.DestinationAccount),
			Status:             WithdrawalPending,
			SubmittedAt:        tx.Now(),
		}
		tx.snap.Withdrawals = append(tx.snap.Withdrawals, w)
		tx.touch()
		tx.emit(Event{Kind: EventWithdrawalSubmitted, UserID: userID, WithdrawalID: id, Amount: amount})
		created = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func validateWithdrawal(req WithdrawalRequest, s Settings, balance decimal.Decimal, userID UserID) (decimal.Decimal, error) {
	amount := req.Amount
	if !amount.IsPositive() || hasSubMinorUnits(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.LessThan(s.MinWithdrawal) {
		return decimal.Zero, &LimitError{Limit: s.MinWithdrawal, Requested: amount, Below: true}
	}
	if amount.GreaterThan(s.MaxWithdrawal) {
		return decimal.Zero, &LimitError{Limit: s.MaxWithdrawal, Requested: amount}
	}
	if strings.TrimSpace(req.Method) == "" && strings.TrimSpace(req.DestinationAccount) == "" {
		return decimal.Zero, ErrMissingDestination
	}
	if amount.GreaterThan(balance) {
		return decimal.Zero, &InsufficientBalanceError{UserID: userID, Available: balance, Requested: amount}
	}
	return Money(amount), nil
}

// Decide approves or rejects a pending withdrawal.
func (wf *WithdrawalWorkflow) Decide(ctx context.Context, by AdminActor, id WithdrawalID, decision Decision) (*Withdrawal, error) {
	var decided Withdrawal
	err := wf.store.Update(ctx, func(tx *Tx) error {
		w, err := tx.withdrawal(id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return ErrNotPending
		}

		now := tx.Now()
		switch decision {
		case DecisionApprove:
			w.Status = WithdrawalCompleted
			tx.emit(Event{Kind: EventWithdrawalApproved, UserID: w.UserID, WithdrawalID: w.ID, Amount: w.Amount})
		case DecisionReject:
			// A deleted user cannot be refunded; the rejection still stands.
			if _, err := wf.ledger.refund(tx, w.UserID, w.Amount, w.ID); err != nil && !IsNotFound(err) {
				return err
			}
			w.Status = WithdrawalRejected
			tx.emit(Event{Kind: EventWithdrawalRejected, UserID: w.UserID, WithdrawalID: w.ID, Amount: w.Amount})
		default:
			return ErrInvalidDecision
		}
		w.DecidedAt = &now
		w.DecidedBy = by.ID
		tx.touch()
		decided = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &decided, nil
}
