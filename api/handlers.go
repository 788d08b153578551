/*
handlers.go - HTTP API handlers for the task ledger

PURPOSE:
  Exposes the task-session and reward-ledger engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates every rule to
  the engine.

ENDPOINTS:
  Auth (public):
    POST   /api/auth/register              Sign up (account starts pending)
    POST   /api/auth/login                 Exchange credentials for a token
    GET    /api/settings                   Branding and withdrawal limits

  Participant (bearer token):
    GET    /api/me                         Profile, balance, active session
    PUT    /api/me/password                Change own password
    GET    /api/me/tasks                   Tasks not yet completed
    GET    /api/me/completions             Task history
    POST   /api/me/session                 Start a task session
    GET    /api/me/session                 Current countdown
    DELETE /api/me/session                 Close the surface (no reward)
    POST   /api/me/session/heartbeat       Keep the surface open
    GET    /api/me/withdrawals             Own withdrawal requests
    POST   /api/me/withdrawals             Request a withdrawal
    GET    /api/me/entries                 Ledger entries

  Admin (bearer token, admin role):
    GET    /api/admin/stats
    GET    /api/admin/users                POST /api/admin/users
    POST   /api/admin/users/{id}/approve   POST /api/admin/users/{id}/block
    DELETE /api/admin/users/{id}           PUT  /api/admin/users/{id}/password
    GET    /api/admin/users/{id}/reconcile
    GET    /api/admin/tasks                POST /api/admin/tasks
    PUT    /api/admin/tasks/{id}           DELETE /api/admin/tasks/{id}
    GET    /api/admin/withdrawals?status=&user_id=
    POST   /api/admin/withdrawals/{id}/approve
    POST   /api/admin/withdrawals/{id}/reject
    GET    /api/admin/settings             PUT  /api/admin/settings
    GET    /api/admin/scenarios            POST /api/admin/scenarios/load

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, insufficient balance
  - 401: Missing or invalid credentials
  - 403: Not approved, not an administrator, self-moderation
  - 404: Unknown user, task or withdrawal
  - 409: Conflict (already active, already completed, not pending)
  - 500: Internal errors (persistence failures)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Sample data loaders
  - auth.go: Bearer token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/identity"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *engine.LedgerStore
	Ledger      *engine.RewardLedger
	Sessions    *engine.SessionController
	Withdrawals *engine.WithdrawalWorkflow
	Moderation  *engine.Moderation
	Identity    *identity.Service
	Surfaces    *SurfaceRegistry

	// Ping reports persistence health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler wires the engine components around one store. Sessions are
// viewed through surfaces.
func NewHandler(store *engine.LedgerStore, ident *identity.Service, surfaces *SurfaceRegistry) *Handler {
	ledger := engine.NewRewardLedger(store)
	return &Handler{
		Store:       store,
		Ledger:      ledger,
		Sessions:    engine.NewSessionController(store, ledger, surfaces),
		Withdrawals: engine.NewWithdrawalWorkflow(store, ledger),
		Moderation:  engine.NewModeration(store),
		Identity:    ident,
		Surfaces:    surfaces,
	}
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Register creates a pending account.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.Identity.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user, nil))
}

// Login issues a bearer token to an approved user.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     sess.Token,
		ExpiresAt: timestamp(sess.ExpiresAt),
		User:      toUserDTO(sess.User, h.Surfaces),
	})
}

// GetPublicSettings returns branding and withdrawal limits.
// GET /api/settings
func (h *Handler) GetPublicSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsDTO(h.Store.Settings()))
}

// =============================================================================
// PARTICIPANT ENDPOINTS
// =============================================================================

// GetMe returns the caller's profile.
// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.User(actorFrom(r).ActorID())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user, h.Surfaces))
}

// ChangeMyPassword replaces the caller's password.
// PUT /api/me/password
func (h *Handler) ChangeMyPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := actorFrom(r)
	if err := h.Identity.ChangePassword(r.Context(), actor, actor.ActorID(), req.Password); err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMyTasks returns the tasks the caller can still complete.
// GET /api/me/tasks
func (h *Handler) ListMyTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTaskDTOs(h.Store.AvailableTasks(actorFrom(r).ActorID())))
}

// ListMyCompletions returns the caller's task history. Deleted tasks are
// still listed with the URL and reward recorded at completion.
// GET /api/me/completions
func (h *Handler) ListMyCompletions(w http.ResponseWriter, r *http.Request) {
	records := h.Store.ListCompletions(actorFrom(r).ActorID())

	live := make(map[engine.TaskID]bool)
	for _, t := range h.Store.ListTasks() {
		live[t.ID] = true
	}

	dtos := make([]CompletionDTO, len(records))
	for i, rec := range records {
		dtos[i] = CompletionDTO{
			TaskID:      string(rec.TaskID),
			URL:         rec.URL,
			Reward:      money(rec.Reward),
			CompletedAt: timestamp(rec.CompletedAt),
			TaskDeleted: !live[rec.TaskID],
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StartSession activates a task and opens its viewing surface.
// POST /api/me/session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		writeErrorCode(w, http.StatusBadRequest, "task_id is required", "invalid_request", nil)
		return
	}
	sess, err := h.Sessions.StartSession(r.Context(), actorFrom(r).ActorID(), engine.TaskID(req.TaskID))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess, h.Surfaces))
}

// GetSession returns the caller's countdown.
// GET /api/me/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.ActiveSession(actorFrom(r).ActorID())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess, h.Surfaces))
}

// CancelSession closes the surface before the countdown finished.
// DELETE /api/me/session
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Cancel(r.Context(), actorFrom(r).ActorID())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTickResultDTO(res))
}

// Heartbeat keeps the caller's surface open and returns the countdown.
// A response with active=false means the session already ended.
// POST /api/me/session/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.ActiveSession(actorFrom(r).ActorID())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if sess != nil {
		// A late heartbeat is refused by the registry; the next tick
		// abandons the session.
		_ = h.Surfaces.Heartbeat(sess.Handle)
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess, h.Surfaces))
}

// ListMyWithdrawals returns the caller's withdrawal requests, newest first.
// GET /api/me/withdrawals
func (h *Handler) ListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	list := h.Store.ListWithdrawals(engine.WithdrawalFilter{UserID: actorFrom(r).ActorID()})
	dtos := make([]WithdrawalDTO, len(list))
	for i, wd := range list {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitWithdrawal debits the balance and records a pending request.
// POST /api/me/withdrawals
func (h *Handler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wd, err := h.Withdrawals.Submit(r.Context(), actorFrom(r).ActorID(), engine.WithdrawalRequest{
		Amount:             req.Amount,
		Method:             req.Method,
		DestinationAccount: req.DestinationAccount,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wd))
}

// ListMyEntries returns the caller's ledger entries.
// GET /api/me/entries
func (h *Handler) ListMyEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toEntryDTOs(h.Store.Entries(actorFrom(r).ActorID())))
}

// =============================================================================
// ADMIN: USERS
// =============================================================================

// GetStats returns dashboard counters.
// GET /api/admin/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st := h.Moderation.Stats(adminFrom(r))
	writeJSON(w, http.StatusOK, StatsDTO{
		TotalUsers:         st.TotalUsers,
		PendingApprovals:   st.PendingApprovals,
		TotalTasks:         st.TotalTasks,
		PendingWithdrawals: st.PendingWithdrawals,
		PendingAmount:      money(st.PendingAmount),
		PaidOut:            money(st.PaidOut),
	})
}

// ListUsers returns every account.
// GET /api/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserDTOs(h.Store.ListUsers()))
}

// CreateUser adds an approved account.
// POST /api/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := engine.Role(req.Role)
	switch role {
	case "":
		role = engine.RoleUser
	case engine.RoleUser, engine.RoleAdmin:
	default:
		writeErrorCode(w, http.StatusBadRequest, "role must be user or admin", "invalid_request", nil)
		return
	}
	user, err := h.Identity.CreateUser(r.Context(), adminFrom(r), req.Username, req.Password, role)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user, nil))
}

// ApproveUser lets a pending account sign in.
// POST /api/admin/users/{id}/approve
func (h *Handler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	h.moderateUser(w, r, h.Moderation.ApproveUser)
}

// BlockUser returns an account to pending.
// POST /api/admin/users/{id}/block
func (h *Handler) BlockUser(w http.ResponseWriter, r *http.Request) {
	h.moderateUser(w, r, h.Moderation.BlockUser)
}

func (h *Handler) moderateUser(w http.ResponseWriter, r *http.Request,
	action func(context.Context, engine.AdminActor, engine.UserID) error) {
	id := engine.UserID(chi.URLParam(r, "id"))
	if err := action(r.Context(), adminFrom(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	user, err := h.Store.User(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user, nil))
}

// DeleteUser removes an account. Its history stays in the ledger.
// DELETE /api/admin/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := engine.UserID(chi.URLParam(r, "id"))
	handle, err := h.Moderation.DeleteUser(r.Context(), adminFrom(r), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if handle != "" {
		h.Surfaces.Close(handle)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ResetPassword sets another user's password.
// PUT /api/admin/users/{id}/password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := engine.UserID(chi.URLParam(r, "id"))
	if err := h.Identity.ChangePassword(r.Context(), adminFrom(r), id, req.Password); err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReconcileUser replays a user's ledger entries against the balance.
// GET /api/admin/users/{id}/reconcile
func (h *Handler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Reconcile(r.Context(), engine.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationDTO{
		UserID:   string(rec.UserID),
		Balance:  money(rec.Balance),
		Credits:  money(rec.Credits),
		Debits:   money(rec.Debits),
		Refunds:  money(rec.Refunds),
		Replayed: money(rec.Replayed),
		Balanced: rec.Balanced(),
	})
}

// =============================================================================
// ADMIN: TASKS
// =============================================================================

// ListTasks returns the whole catalog.
// GET /api/admin/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTaskDTOs(h.Store.ListTasks()))
}

// CreateTask adds a task.
// POST /api/admin/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Moderation.CreateTask(r.Context(), adminFrom(r), taskDraft(req))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(*task))
}

// EditTask replaces a task's URL, reward and duration. Past completions
// keep the reward they were paid.
// PUT /api/admin/tasks/{id}
func (h *Handler) EditTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := engine.TaskID(chi.URLParam(r, "id"))
	task, err := h.Moderation.EditTask(r.Context(), adminFrom(r), id, taskDraft(req))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(*task))
}

// DeleteTask removes a task from the catalog.
// DELETE /api/admin/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := engine.TaskID(chi.URLParam(r, "id"))
	if err := h.Moderation.DeleteTask(r.Context(), adminFrom(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func taskDraft(req TaskRequest) engine.TaskDraft {
	return engine.TaskDraft{
		URL:             req.URL,
		Reward:          req.Reward,
		DurationSeconds: req.DurationSeconds,
	}
}

// =============================================================================
// ADMIN: WITHDRAWALS
// =============================================================================

// ListWithdrawals returns withdrawal requests, newest first.
// GET /api/admin/withdrawals?status=pending&user_id=...
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.WithdrawalFilter{
		UserID: engine.UserID(q.Get("user_id")),
		Status: engine.WithdrawalStatus(q.Get("status")),
	}
	switch filter.Status {
	case "", engine.WithdrawalPending, engine.WithdrawalCompleted, engine.WithdrawalRejected:
	default:
		writeErrorCode(w, http.StatusBadRequest, "unknown status filter", "invalid_request", nil)
		return
	}

	names := make(map[engine.UserID]string)
	for _, u := range h.Store.ListUsers() {
		names[u.ID] = u.Username
	}

	list := h.Store.ListWithdrawals(filter)
	dtos := make([]WithdrawalDTO, len(list))
	for i, wd := range list {
		dtos[i] = toWithdrawalDTO(wd)
		dtos[i].Username = names[wd.UserID]
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveWithdrawal marks a pending withdrawal as paid out.
// POST /api/admin/withdrawals/{id}/approve
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, engine.DecisionApprove)
}

// RejectWithdrawal refunds a pending withdrawal.
// POST /api/admin/withdrawals/{id}/reject
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, engine.DecisionReject)
}

func (h *Handler) decideWithdrawal(w http.ResponseWriter, r *http.Request, decision engine.Decision) {
	id := engine.WithdrawalID(chi.URLParam(r, "id"))
	wd, err := h.Withdrawals.Decide(r.Context(), adminFrom(r), id, decision)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

// =============================================================================
// ADMIN: SETTINGS
// =============================================================================

// GetSettings returns the current settings.
// GET /api/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsDTO(h.Store.Settings()))
}

// UpdateSettings changes the fields present in the body; the rest keep
// their value. Limits given in the wrong order are swapped; the stored
// values are returned.
// PUT /api/admin/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := h.Moderation.UpdateSettings(r.Context(), adminFrom(r), req.apply(h.Store.Settings()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(saved))
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports whether the service can reach its database.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid request body", "invalid_request", err.Error())
		return false
	}
	return true
}

// errorCodes maps engine sentinels to stable machine-readable codes.
var errorCodes = []struct {
	err  error
	code string
}{
	{engine.ErrAlreadyActive, "already_active"},
	{engine.ErrAlreadyCompleted, "already_completed"},
	{engine.ErrUnknownTask, "unknown_task"},
	{engine.ErrUnknownUser, "unknown_user"},
	{engine.ErrUnknownWithdrawal, "unknown_withdrawal"},
	{engine.ErrInvalidAmount, "invalid_amount"},
	{engine.ErrBelowMinimum, "below_minimum"},
	{engine.ErrAboveMaximum, "above_maximum"},
	{engine.ErrMissingDestination, "missing_destination"},
	{engine.ErrInsufficientBalance, "insufficient_balance"},
	{engine.ErrNotPending, "not_pending"},
	{engine.ErrDuplicateUsername, "duplicate_username"},
	{engine.ErrInvalidUser, "invalid_user"},
	{engine.ErrInvalidTask, "invalid_task"},
	{engine.ErrInvalidSettings, "invalid_settings"},
	{engine.ErrInvalidDecision, "invalid_decision"},
	{engine.ErrForbidden, "forbidden"},
	{engine.ErrStaleSnapshot, "stale_snapshot"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// writeEngineError translates an engine error into a status, code and
// structured details.
func writeEngineError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, engine.ErrForbidden):
		status = http.StatusForbidden
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsConflict(err):
		status = http.StatusConflict
	case engine.IsClientError(err):
		status = http.StatusBadRequest
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
		return
	}
	writeErrorCode(w, status, err.Error(), errorCode(err), errorDetails(err))
}

func errorDetails(err error) any {
	var (
		ib   *engine.InsufficientBalanceError
		lim  *engine.LimitError
		task *engine.TaskValidationError
	)
	switch {
	case errors.As(err, &ib):
		return map[string]string{
			"available": money(ib.Available),
			"requested": money(ib.Requested),
		}
	case errors.As(err, &lim):
		return map[string]string{
			"limit":     money(lim.Limit),
			"requested": money(lim.Requested),
		}
	case errors.As(err, &task):
		return map[string]string{"field": task.Field, "reason": task.Reason}
	}
	return nil
}
