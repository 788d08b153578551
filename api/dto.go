/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  engine types so the wire contract can evolve independently.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts go out as fixed two-decimal strings ("100.00"). Requests accept
  either a JSON string or a JSON number; shopspring/decimal parses both
  without float rounding.

TYPES:
  Auth:        RegisterRequest, LoginRequest, LoginResponse
  Users:       UserDTO, CreateUserRequest, PasswordRequest
  Tasks:       TaskDTO, TaskRequest, CompletionDTO
  Sessions:    StartSessionRequest, SessionDTO, TickResultDTO
  Withdrawals: WithdrawalDTO, WithdrawalRequest
  Ledger:      EntryDTO, ReconciliationDTO
  Admin:       StatsDTO, SettingsDTO, SettingsRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/task-ledger/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RegisterRequest signs up a new participant.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest exchanges credentials for a bearer token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      UserDTO `json:"user"`
}

// UserDTO represents a user in API responses. Password hashes never leave
// the server.
type UserDTO struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Role          string      `json:"role"`
	Status        string      `json:"status"`
	Balance       string      `json:"balance"`
	ActiveSession *SessionDTO `json:"active_session,omitempty"`
	CreatedAt     string      `json:"created_at"`
}

// CreateUserRequest is the admin "add user" form.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// PasswordRequest changes a password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// TaskDTO represents a task in the catalog.
type TaskDTO struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Reward          string `json:"reward"`
	DurationSeconds int    `json:"duration_seconds"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// TaskRequest creates or edits a task.
type TaskRequest struct {
	URL             string          `json:"url"`
	Reward          decimal.Decimal `json:"reward"`
	DurationSeconds int             `json:"duration_seconds"`
}

// CompletionDTO is one entry of a user's task history.
type CompletionDTO struct {
	TaskID      string `json:"task_id"`
	URL         string `json:"url"`
	Reward      string `json:"reward"`
	CompletedAt string `json:"completed_at"`
	TaskDeleted bool   `json:"task_deleted"`
}

// StartSessionRequest begins viewing a task.
type StartSessionRequest struct {
	TaskID string `json:"task_id"`
}

// SessionDTO describes the caller's active session.
type SessionDTO struct {
	Active           bool   `json:"active"`
	TaskID           string `json:"task_id,omitempty"`
	URL              string `json:"url,omitempty"`
	Handle           string `json:"handle,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining"`
	StartedAt        string `json:"started_at,omitempty"`
}

// TickResultDTO reports how a session ended.
type TickResultDTO struct {
	Outcome          string `json:"outcome"`
	TaskID           string `json:"task_id,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Reward           string `json:"reward,omitempty"`
	Balance          string `json:"balance"`
}

// WithdrawalDTO represents a withdrawal request.
type WithdrawalDTO struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Username           string `json:"username,omitempty"`
	Amount             string `json:"amount"`
	Method             string `json:"method"`
	DestinationAccount string `json:"destination_account"`
	Status             string `json:"status"`
	SubmittedAt        string `json:"submitted_at"`
	DecidedAt          string `json:"decided_at,omitempty"`
	DecidedBy          string `json:"decided_by,omitempty"`
}

// WithdrawalRequest is the participant's payout form.
type WithdrawalRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	Method             string          `json:"method"`
	DestinationAccount string          `json:"destination_account"`
}

// EntryDTO is one ledger entry.
type EntryDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ReconciliationDTO compares a balance with its replayed entries.
type ReconciliationDTO struct {
	UserID   string `json:"user_id"`
	Balance  string `json:"balance"`
	Credits  string `json:"credits"`
	Debits   string `json:"debits"`
	Refunds  string `json:"refunds"`
	Replayed string `json:"replayed"`
	Balanced bool   `json:"balanced"`
}

// StatsDTO feeds the admin dashboard.
type StatsDTO struct {
	TotalUsers         int    `json:"total_users"`
	PendingApprovals   int    `json:"pending_approvals"`
	TotalTasks         int    `json:"total_tasks"`
	PendingWithdrawals int    `json:"pending_withdrawals"`
	PendingAmount      string `json:"pending_amount"`
	PaidOut            string `json:"paid_out"`
}

// SettingsDTO is the settings as returned by the API.
type SettingsDTO struct {
	MinWithdrawal decimal.Decimal `json:"min_withdrawal"`
	MaxWithdrawal decimal.Decimal `json:"max_withdrawal"`
	AppName       string          `json:"app_name"`
	LogoURL       string          `json:"logo_url"`
}

// SettingsRequest changes settings. Omitted fields keep their value.
type SettingsRequest struct {
	MinWithdrawal *decimal.Decimal `json:"min_withdrawal,omitempty"`
	MaxWithdrawal *decimal.Decimal `json:"max_withdrawal,omitempty"`
	AppName       *string          `json:"app_name,omitempty"`
	LogoURL       *string          `json:"logo_url,omitempty"`
}

// apply overlays the fields present in req onto s.
func (req SettingsRequest) apply(s engine.Settings) engine.Settings {
	if req.MinWithdrawal != nil {
		s.MinWithdrawal = *req.MinWithdrawal
	}
	if req.MaxWithdrawal != nil {
		s.MaxWithdrawal = *req.MaxWithdrawal
	}
	if req.AppName != nil {
		s.AppName = *req.AppName
	}
	if req.LogoURL != nil {
		s.LogoURL = *req.LogoURL
	}
	return s
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(engine.MinorUnitPlaces)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u *engine.User, surfaces *SurfaceRegistry) UserDTO {
	dto := UserDTO{
		ID:        string(u.ID),
		Username:  u.Username,
		Role:      string(u.Role),
		Status:    string(u.Status),
		Balance:   money(u.Balance),
		CreatedAt: timestamp(u.CreatedAt),
	}
	if u.ActiveSession != nil {
		sess := toSessionDTO(u.ActiveSession, surfaces)
		dto.ActiveSession = &sess
	}
	return dto
}

func toUserDTOs(users []engine.User) []UserDTO {
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i], nil)
	}
	return dtos
}

func toTaskDTO(t engine.Task) TaskDTO {
	return TaskDTO{
		ID:              string(t.ID),
		URL:             t.URL,
		Reward:          money(t.Reward),
		DurationSeconds: t.DurationSeconds,
		CreatedAt:       timestamp(t.CreatedAt),
		UpdatedAt:       timestamp(t.UpdatedAt),
	}
}

func toTaskDTOs(tasks []engine.Task) []TaskDTO {
	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	return dtos
}

func toSessionDTO(s *engine.TaskSession, surfaces *SurfaceRegistry) SessionDTO {
	if s == nil {
		return SessionDTO{Active: false}
	}
	dto := SessionDTO{
		Active:           true,
		TaskID:           string(s.TaskID),
		Handle:           string(s.Handle),
		SecondsRemaining: s.SecondsRemaining,
		StartedAt:        timestamp(s.StartedAt),
	}
	if surfaces != nil {
		dto.URL = surfaces.URL(s.Handle)
	}
	return dto
}

func toTickResultDTO(r engine.TickResult) TickResultDTO {
	dto := TickResultDTO{
		Outcome:          string(r.Outcome),
		TaskID:           string(r.TaskID),
		SecondsRemaining: r.SecondsRemaining,
		Balance:          money(r.Balance),
	}
	if r.Outcome == engine.OutcomeCompleted {
		dto.Reward = money(r.Reward)
	}
	return dto
}

func toWithdrawalDTO(w engine.Withdrawal) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:                 string(w.ID),
		UserID:             string(w.UserID),
		Amount:             money(w.Amount),
		Method:             w.Method,
		DestinationAccount: w.DestinationAccount,
		Status:             string(w.Status),
		SubmittedAt:        timestamp(w.SubmittedAt),
		DecidedBy:          string(w.DecidedBy),
	}
	if w.DecidedAt != nil {
		dto.DecidedAt = timestamp(*w.DecidedAt)
	}
	return dto
}

func toEntryDTOs(entries []engine.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:        string(e.ID),
			Kind:      string(e.Kind),
			Amount:    money(e.Amount),
			Reference: e.Reference,
			CreatedAt: timestamp(e.CreatedAt),
		}
	}
	return dtos
}

func toSettingsDTO(s engine.Settings) SettingsDTO {
	return SettingsDTO{
		MinWithdrawal: s.MinWithdrawal,
		MaxWithdrawal: s.MaxWithdrawal,
		AppName:       s.AppName,
		LogoURL:       s.LogoURL,
	}
}
