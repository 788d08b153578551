/*
session.go - Task Session Controller

PURPOSE:
  Owns the per-user state machine for "a user is currently viewing a task".

STATE MACHINE:
  ┌──────┐  StartSession  ┌────────┐  Tick reaches 0  ┌───────────┐
  │ Idle │ ─────────────▶ │ Active │ ───────────────▶ │ Completed │──▶ Idle
  └──────┘                └────────┘                  └───────────┘
                               │   Cancel, or surface closed
                               ▼
                          ┌───────────┐
                          │ Cancelled │──▶ Idle
                          └───────────┘

  Completed and Cancelled are terminal for the attempt: the session is
  cleared and the user is Idle again.

RACES:
  The completion tick and the "surface closed" signal can both arrive
  around the same second. Both run inside LedgerStore.Update and first
  check whether the user still has a session. Whichever commits first
  wins; the other finds no session and returns OutcomeNoSession. A late
  duplicate tick is the same case. Neither path ever errors or pays twice.

REWARDS:
  The only path that pays is Tick reaching zero, which funnels through
  RewardLedger.creditCompletion in the same Tx that clears the session.
  Completion is driven by elapsed ticks, never by a client claim.

SEE ALSO:
  - ledger.go: creditCompletion
  - viewer.go: Viewer polled on each tick
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Outcome reports what a Tick or Cancel did.
type Outcome string

const (
	OutcomeNoSession Outcome = "no_session" // nothing active, call was a no-op
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned" // TaskAbandoned: cleared without reward
)

// TickResult describes the session after a Tick or Cancel.
type TickResult struct {
	Outcome          Outcome
	TaskID           TaskID
	SecondsRemaining int
	Reward           decimal.Decimal // set when Outcome is OutcomeCompleted
	Balance          decimal.Decimal
}

// SessionController drives TaskSessions.
type SessionController struct {
	store  *LedgerStore
	ledger *RewardLedger
	viewer Viewer
}

func NewSessionController(store *LedgerStore, ledger *RewardLedger, viewer Viewer) *SessionController {
	if viewer == nil {
		viewer = AlwaysOpenViewer{}
	}
	return &SessionController{store: store, ledger: ledger, viewer: viewer}
}

// StartSession activates taskID for userID and opens the viewing surface.
func (c *SessionController) StartSession(ctx context.Context, userID UserID, taskID TaskID) (*TaskSession, error) {
	var (
		started TaskSession
		handle  Handle
		opened  bool
	)
	err := c.store.Update(ctx, func(tx *Tx) error {
		// Update reruns fn after a stale save; drop the earlier surface.
		if opened {
			c.viewer.Close(handle)
			opened = false
		}
		user, err := tx.user(userID)
		if err != nil {
			return err
		}
		if user.ActiveSession != nil {
			return ErrAlreadyActive
		}
		if tx.completion(userID, taskID) != nil {
			return ErrAlreadyCompleted
		}
		task, err := tx.task(taskID)
		if err != nil {
			return err
		}

		handle, err = c.viewer.Open(ctx, task.URL)
		if err != nil {
			return fmt.Errorf("open viewing surface: %w", err)
		}
		opened = true

		user.ActiveSession = &TaskSession{
			TaskID:           task.ID,
			StartedAt:        tx.Now(),
			SecondsRemaining: task.DurationSeconds,
			Handle:           handle,
		}
		started = *user.ActiveSession
		tx.touch()
		tx.emit(Event{Kind: EventSessionStarted, UserID: userID, TaskID: task.ID})
		return nil
	})
	if err != nil {
		if opened {
			c.viewer.Close(handle)
		}
		return nil, err
	}
	return &started, nil
}

// Tick advances the user's countdown by one second.
func (c *SessionController) Tick(ctx context.Context, userID UserID) (TickResult, error) {
	var (
		res     TickResult
		release Handle
		closing bool
	)
	err := c.store.Update(ctx, func(tx *Tx) error {
		res = TickResult{}
		closing = false

		user, err := tx.user(userID)
		if err != nil {
			return err
		}
		res.Balance = user.Balance
		sess := user.ActiveSession
		if sess == nil {
			res.Outcome = OutcomeNoSession
			return nil
		}
		res.TaskID = sess.TaskID

		if !c.viewer.IsOpen(sess.Handle) {
			release, closing = c.abandon(tx, user), true
			res.Outcome = OutcomeAbandoned
			res.SecondsRemaining = sess.SecondsRemaining
			return nil
		}
		if _, err := tx.task(sess.TaskID); err != nil {
			// Task deleted mid-session: nothing left to pay for.
			release, closing = c.abandon(tx, user), true
			res.Outcome = OutcomeAbandoned
			res.SecondsRemaining = sess.SecondsRemaining
			return nil
		}

		sess.SecondsRemaining--
		tx.touch()
		if sess.SecondsRemaining > 0 {
			res.Outcome = OutcomeRunning
			res.SecondsRemaining = sess.SecondsRemaining
			return nil
		}

		balance, _, err := c.ledger.creditCompletion(tx, userID, sess.TaskID)
		if err != nil {
			return err
		}
		release, closing = sess.Handle, true
		user.ActiveSession = nil
		res.Outcome = OutcomeCompleted
		res.Balance = balance
		res.Reward = lastCompletionReward(tx.snap, userID, sess.TaskID)
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}
	if closing {
		c.viewer.Close(release)
	}
	return res, nil
}

// Cancel clears the active session without paying. Models the viewing
// surface being closed before the countdown finished.
func (c *SessionController) Cancel(ctx context.Context, userID UserID) (TickResult, error) {
	var (
		res     TickResult
		release Handle
		closing bool
	)
	err := c.store.Update(ctx, func(tx *Tx) error {
		res = TickResult{}
		closing = false

		user, err := tx.user(userID)
		if err != nil {
			return err
		}
		res.Balance = user.Balance
		if user.ActiveSession == nil {
			res.Outcome = OutcomeNoSession
			return nil
		}
		res.TaskID = user.ActiveSession.TaskID
		res.SecondsRemaining = user.ActiveSession.SecondsRemaining
		release, closing = c.abandon(tx, user), true
		res.Outcome = OutcomeAbandoned
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}
	if closing {
		c.viewer.Close(release)
	}
	return res, nil
}

// abandon clears the session and returns its surface handle.
func (c *SessionController) abandon(tx *Tx, user *User) Handle {
	sess := user.ActiveSession
	user.ActiveSession = nil
	tx.touch()
	tx.emit(Event{Kind: EventTaskAbandoned, UserID: user.ID, TaskID: sess.TaskID})
	return sess.Handle
}

func lastCompletionReward(snap *Snapshot, userID UserID, taskID TaskID) decimal.Decimal {
	if r := findCompletion(snap, userID, taskID); r != nil {
		return r.Reward
	}
	return decimal.Zero
}
