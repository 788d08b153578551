package engine

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventSessionStarted      EventKind = "session_started"
	EventTaskCompleted       EventKind = "task_completed"
	EventTaskAbandoned       EventKind = "task_abandoned"
	EventWithdrawalSubmitted EventKind = "withdrawal_submitted"
	EventWithdrawalApproved  EventKind = "withdrawal_approved"
	EventWithdrawalRejected  EventKind = "withdrawal_rejected"
	EventUserRegistered      EventKind = "user_registered"
	EventUserApproved        EventKind = "user_approved"
	EventUserBlocked         EventKind = "user_blocked"
	EventUserDeleted         EventKind = "user_deleted"
	EventPasswordChanged     EventKind = "password_changed"
	EventTaskCreated         EventKind = "task_created"
	EventTaskEdited          EventKind = "task_edited"
	EventTaskDeleted         EventKind = "task_deleted"
	EventSettingsUpdated     EventKind = "settings_updated"
)

// Event describes a change after it has been persisted.
type Event struct {
	Kind         EventKind
	UserID       UserID
	TaskID       TaskID
	WithdrawalID WithdrawalID
	Amount       decimal.Decimal
	At           time.Time
}

// Listener receives committed events. Implementations must not block.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// LogListener writes one line per event.
type LogListener struct {
	Logger *log.Logger
}

func (l LogListener) OnEvent(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	switch {
	case e.WithdrawalID != "":
		logger.Printf("[Ledger] %s user=%s withdrawal=%s amount=%s", e.Kind, e.UserID, e.WithdrawalID, e.Amount.StringFixed(MinorUnitPlaces))
	case e.TaskID != "" && !e.Amount.IsZero():
		logger.Printf("[Ledger] %s user=%s task=%s amount=%s", e.Kind, e.UserID, e.TaskID, e.Amount.StringFixed(MinorUnitPlaces))
	case e.TaskID != "":
		logger.Printf("[Ledger] %s user=%s task=%s", e.Kind, e.UserID, e.TaskID)
	default:
		logger.Printf("[Ledger] %s user=%s", e.Kind, e.UserID)
	}
}
