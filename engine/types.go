/*
Package engine provides the task-session and reward-ledger engine.

PURPOSE:
  Participants earn balance by keeping an advertisement open for the
  duration of a task. Administrators manage users, tasks and withdrawal
  requests. This package holds every rule that moves money: task
  activation, timed completion or cancellation, idempotent reward
  crediting, and withdrawal debit/refund.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount rounded to currency minor units
  - User, Task, CompletionRecord, TaskSession, Withdrawal, Settings
  - LedgerEntry: immutable record of a single balance change
  - Snapshot: the full persisted state handed to a Persister

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64, for money
  2. Type Safety: distinct ID types for users, tasks and withdrawals
  3. Auditability: every balance change is an entry with an idempotency key
  4. Snapshot rewards: a completion records the reward it paid

USAGE:
  store, _ := engine.OpenLedgerStore(ctx, persister, engine.DefaultSettings())
  ledger := engine.NewRewardLedger(store)
  sessions := engine.NewSessionController(store, ledger, viewer)
  withdrawals := engine.NewWithdrawalWorkflow(store, ledger)

SEE ALSO:
  - store.go: LedgerStore and the Persister interface
  - ledger.go: RewardLedger apply operations
  - session.go: TaskSession state machine
  - withdrawal.go: Withdrawal workflow
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MinorUnitPlaces is the number of decimal places kept for balances.
const MinorUnitPlaces = 2

// Money normalizes d to currency minor units.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// MustMoney parses s and panics on malformed input. Intended for tests and defaults.
func MustMoney(s string) decimal.Decimal {
	return Money(decimal.RequireFromString(s))
}

// hasSubMinorUnits reports whether d carries precision below the minor unit.
func hasSubMinorUnits(d decimal.Decimal) bool {
	return !d.Equal(d.Round(MinorUnitPlaces))
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TaskID string
type WithdrawalID string
type EntryID string

// Handle identifies an open viewing surface.
type Handle string

// =============================================================================
// USERS
// =============================================================================

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
)

// User is a registered participant or administrator.
//
// INVARIANT: Balance is never negative and always equals the sum of the
// user's ledger entries.
type User struct {
	ID           UserID          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"password_hash"`
	Role         Role            `json:"role"`
	Balance      decimal.Decimal `json:"balance"`
	Status       UserStatus      `json:"status"`
	// ActiveSession is nil while the user is idle.
	ActiveSession *TaskSession `json:"active_session,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (u *User) IsAdmin() bool    { return u.Role == RoleAdmin }
func (u *User) IsApproved() bool { return u.Status == UserApproved }

// =============================================================================
// TASKS
// =============================================================================

// Task is an advertisement-viewing unit of work.
type Task struct {
	ID              TaskID          `json:"id"`
	URL             string          `json:"url"`
	Reward          decimal.Decimal `json:"reward"`
	DurationSeconds int             `json:"duration_seconds"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TaskDraft carries the admin-editable fields of a Task.
type TaskDraft struct {
	URL             string
	Reward          decimal.Decimal
	DurationSeconds int
}

func (d TaskDraft) validate() error {
	if d.URL == "" {
		return &TaskValidationError{Field: "url", Reason: "required"}
	}
	if !d.Reward.IsPositive() {
		return &TaskValidationError{Field: "reward", Reason: "must be positive"}
	}
	if hasSubMinorUnits(d.Reward) {
		return &TaskValidationError{Field: "reward", Reason: "too many decimal places"}
	}
	if d.DurationSeconds <= 0 {
		return &TaskValidationError{Field: "duration_seconds", Reason: "must be positive"}
	}
	return nil
}

// CompletionRecord is durable proof that a (user, task) pair was paid.
// URL and Reward are copied from the task when the credit is applied, so
// later edits or deletion of the task never change historical payouts.
type CompletionRecord struct {
	UserID      UserID          `json:"user_id"`
	TaskID      TaskID          `json:"task_id"`
	URL         string          `json:"url"`
	Reward      decimal.Decimal `json:"reward"`
	CompletedAt time.Time       `json:"completed_at"`
}

// TaskSession is a user's in-progress attempt at one task.
type TaskSession struct {
	TaskID           TaskID    `json:"task_id"`
	StartedAt        time.Time `json:"started_at"`
	SecondsRemaining int       `json:"seconds_remaining"`
	Handle           Handle    `json:"handle,omitempty"`
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

// Decision is an administrator's verdict on a pending withdrawal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Withdrawal is a request to pay balance out of the system.
// The amount is debited when the request is submitted.
type Withdrawal struct {
	ID                 WithdrawalID     `json:"id"`
	UserID             UserID           `json:"user_id"`
	Amount             decimal.Decimal  `json:"amount"`
	Method             string           `json:"method"`
	DestinationAccount string           `json:"destination_account"`
	Status             WithdrawalStatus `json:"status"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	DecidedAt          *time.Time       `json:"decided_at,omitempty"`
	DecidedBy          UserID           `json:"decided_by,omitempty"`
}

// WithdrawalFilter narrows ListWithdrawals. Zero fields match everything.
type WithdrawalFilter struct {
	UserID UserID
	Status WithdrawalStatus
}

func (f WithdrawalFilter) matches(w *Withdrawal) bool {
	if f.UserID != "" && w.UserID != f.UserID {
		return false
	}
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	return true
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings holds admin-configured limits and branding.
type Settings struct {
	MinWithdrawal decimal.Decimal `json:"min_withdrawal"`
	MaxWithdrawal decimal.Decimal `json:"max_withdrawal"`
	AppName       string          `json:"app_name"`
	LogoURL       string          `json:"logo_url"`
}

const (
	DefaultAppName = "Monitack"
	DefaultLogoURL = "./logo.png"
)

func DefaultSettings() Settings {
	return Settings{
		MinWithdrawal: MustMoney("50"),
		MaxWithdrawal: MustMoney("10000"),
		AppName:       DefaultAppName,
		LogoURL:       DefaultLogoURL,
	}
}

// normalize fills blank branding and orders the limits so min <= max.
func (s Settings) normalize() (Settings, error) {
	if s.MinWithdrawal.IsNegative() || s.MaxWithdrawal.IsNegative() {
		return s, ErrInvalidSettings
	}
	s.MinWithdrawal = Money(s.MinWithdrawal)
	s.MaxWithdrawal = Money(s.MaxWithdrawal)
	if s.MinWithdrawal.GreaterThan(s.MaxWithdrawal) {
		s.MinWithdrawal, s.MaxWithdrawal = s.MaxWithdrawal, s.MinWithdrawal
	}
	if s.AppName == "" {
		s.AppName = DefaultAppName
	}
	if s.LogoURL == "" {
		s.LogoURL = DefaultLogoURL
	}
	return s, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type EntryKind string

const (
	EntryCredit EntryKind = "credit" // task completion
	EntryDebit  EntryKind = "debit"  // withdrawal request
	EntryRefund EntryKind = "refund" // rejected withdrawal
)

// LedgerEntry is an immutable record of one balance change.
// Amount is signed: debits are negative.
type LedgerEntry struct {
	ID             EntryID         `json:"id"`
	UserID         UserID          `json:"user_id"`
	Kind           EntryKind       `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the complete persisted state.
type Snapshot struct {
	Users       []*User             `json:"users"`
	Tasks       []*Task             `json:"tasks"`
	Withdrawals []*Withdrawal       `json:"withdrawals"`
	Completions []*CompletionRecord `json:"completions"`
	Entries     []*LedgerEntry      `json:"entries"`
	Settings    Settings            `json:"settings"`

	// Version counts saves. A Persister accepts a snapshot only when it is
	// exactly one ahead of what is stored.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers can mutate it freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Users:       make([]*User, len(s.Users)),
		Tasks:       make([]*Task, len(s.Tasks)),
		Withdrawals: make([]*Withdrawal, len(s.Withdrawals)),
		Completions: make([]*CompletionRecord, len(s.Completions)),
		Entries:     make([]*LedgerEntry, len(s.Entries)),
		Settings:    s.Settings,
		Version:     s.Version,
	}
	for i, u := range s.Users {
		c := *u
		if u.ActiveSession != nil {
			sess := *u.ActiveSession
			c.ActiveSession = &sess
		}
		out.Users[i] = &c
	}
	for i, t := range s.Tasks {
		c := *t
		out.Tasks[i] = &c
	}
	for i, w := range s.Withdrawals {
		c := *w
		if w.DecidedAt != nil {
			at := *w.DecidedAt
			c.DecidedAt = &at
		}
		out.Withdrawals[i] = &c
	}
	for i, r := range s.Completions {
		c := *r
		out.Completions[i] = &c
	}
	for i, e := range s.Entries {
		c := *e
		out.Entries[i] = &c
	}
	return out
}
