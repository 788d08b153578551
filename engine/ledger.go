/*
ledger.go - Reward Ledger: every balance-affecting operation

PURPOSE:
  The only code that changes User.Balance. Each change is mirrored by an
  immutable LedgerEntry so the balance can always be explained and
  re-derived by replaying entries.

OPERATIONS:
  creditCompletion:   +reward, once per (user, task)
  debitForWithdrawal: -amount at request time, fails on overdraw
  refund:             +amount for a rejected withdrawal

IDEMPOTENCY:
  creditCompletion is the single funnel for rewards. A second call for
  the same (user, task) returns the current balance and changes nothing,
  so a duplicate timer fire or a replayed event can never double-pay.
  Each credit entry carries the key "completion:<user>:<task>".

  refund performs NO duplicate detection. The Withdrawal Workflow only
  calls it on the pending -> rejected transition, which can happen once.

SNAPSHOT RULE:
  The reward is read from the task at crediting time and copied into the
  CompletionRecord. Editing or deleting the task afterwards never changes
  what was paid.

INVARIANT:
  balance == sum(credits) - sum(debits) + sum(refunds) >= 0

SEE ALSO:
  - session.go: calls creditCompletion when the countdown reaches zero
  - withdrawal.go: calls debitForWithdrawal and refund
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RewardLedger applies credits, debits and refunds against the store.
type RewardLedger struct {
	store *LedgerStore
}

func NewRewardLedger(store *LedgerStore) *RewardLedger {
	return &RewardLedger{store: store}
}

// CreditCompletion pays the task's reward to the user once.
// Returns the balance after the call.
func (l *RewardLedger) CreditCompletion(ctx context.Context, userID UserID, taskID TaskID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.store.Update(ctx, func(tx *Tx) error {
		var err error
		balance, _, err = l.creditCompletion(tx, userID, taskID)
		return err
	})
	return balance, err
}

// creditCompletion reports whether a new record was written.
func (l *RewardLedger) creditCompletion(tx *Tx, userID UserID, taskID TaskID) (decimal.Decimal, bool, error) {
	user, err := tx.user(userID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if tx.completion(userID, taskID) != nil {
		return user.Balance, false, nil
	}
	task, err := tx.task(taskID)
	if err != nil {
		return decimal.Zero, false, err
	}

	reward := Money(task.Reward)
	tx.snap.Completions = append(tx.snap.Completions, &CompletionRecord{
		UserID:      userID,
		TaskID:      taskID,
		URL:         task.URL,
		Reward:      reward,
		CompletedAt: tx.Now(),
	})
	user.Balance = user.Balance.Add(reward)
	tx.appendEntry(LedgerEntry{
		UserID:         userID,
		Kind:           EntryCredit,
		Amount:         reward,
		Reference:      string(taskID),
		IdempotencyKey: completionKey(userID, taskID),
	})
	tx.emit(Event{Kind: EventTaskCompleted, UserID: userID, TaskID: taskID, Amount: reward})
	return user.Balance, true, nil
}

// debitForWithdrawal subtracts amount immediately.
func (l *RewardLedger) debitForWithdrawal(tx *Tx, userID UserID, amount decimal.Decimal, ref WithdrawalID) (decimal.Decimal, error) {
	user, err := tx.user(userID)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(user.Balance) {
		return user.Balance, &InsufficientBalanceError{
			UserID:    userID,
			Available: user.Balance,
			Requested: amount,
		}
	}
	user.Balance = user.Balance.Sub(amount)
	tx.appendEntry(LedgerEntry{
		UserID:         userID,
		Kind:           EntryDebit,
		Amount:         amount.Neg(),
		Reference:      string(ref),
		IdempotencyKey: "withdrawal:" + string(ref),
	})
	return user.Balance, nil
}

// refund adds amount back. The caller guarantees it runs once per withdrawal.
func (l *RewardLedger) refund(tx *Tx, userID UserID, amount decimal.Decimal, ref WithdrawalID) (decimal.Decimal, error) {
	user, err := tx.user(userID)
	if err != nil {
		return decimal.Zero, err
	}
	user.Balance = user.Balance.Add(amount)
	tx.appendEntry(LedgerEntry{
		UserID:         userID,
		Kind:           EntryRefund,
		Amount:         amount,
		Reference:      string(ref),
		IdempotencyKey: "refund:" + string(ref),
	})
	return user.Balance, nil
}

func completionKey(userID UserID, taskID TaskID) string {
	return fmt.Sprintf("completion:%s:%s", userID, taskID)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares the stored balance with the replayed entries.
type Reconciliation struct {
	UserID   UserID
	Balance  decimal.Decimal
	Credits  decimal.Decimal
	Debits   decimal.Decimal // positive total of debit entries
	Refunds  decimal.Decimal
	Replayed decimal.Decimal
}

// Balanced reports whether the stored balance matches the entries.
func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.Replayed) && !r.Balance.IsNegative()
}

// Reconcile replays the user's entries.
func (l *RewardLedger) Reconcile(ctx context.Context, userID UserID) (Reconciliation, error) {
	var (
		rec Reconciliation
		err error
	)
	l.store.View(func(snap *Snapshot) {
		user := findUser(snap, userID)
		if user == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownUser, userID)
			return
		}
		rec = reconcile(snap, user)
	})
	return rec, err
}

func reconcile(snap *Snapshot, user *User) Reconciliation {
	rec := Reconciliation{
		UserID:  user.ID,
		Balance: user.Balance,
		Credits: decimal.Zero,
		Debits:  decimal.Zero,
		Refunds: decimal.Zero,
	}
	for _, e := range snap.Entries {
		if e.UserID != user.ID {
			continue
		}
		switch e.Kind {
		case EntryCredit:
			rec.Credits = rec.Credits.Add(e.Amount)
		case EntryDebit:
			rec.Debits = rec.Debits.Add(e.Amount.Neg())
		case EntryRefund:
			rec.Refunds = rec.Refunds.Add(e.Amount)
		}
	}
	rec.Replayed = rec.Credits.Sub(rec.Debits).Add(rec.Refunds)
	return rec
}
