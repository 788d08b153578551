/*
scenarios.go - Sample data loaders for demos

PURPOSE:
  Populates a fresh store with realistic data so the dashboard and the
  participant screens have something to show.

AVAILABLE SCENARIOS:
  sample-catalog:       Three advertisement tasks of different lengths
  sample-participants:  An approved participant with earnings and a
                        pending withdrawal, plus one account awaiting
                        approval (loads sample-catalog first)

HOW SCENARIOS WORK:
  Loading is additive and repeatable: tasks whose URL is already in the
  catalog and usernames that already exist are skipped. Nothing is reset.
  Earnings go through RewardLedger.CreditCompletion and withdrawals
  through WithdrawalWorkflow.Submit, so the ledger reconciles exactly as
  it would after real use.

USAGE VIA API:
  POST /api/admin/scenarios/load
  {"scenario_id": "sample-participants"}

SEE ALSO:
  - handlers.go: Admin endpoints
  - cmd/taskledger/seed.go: CLI equivalent
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/task-ledger/engine"
)

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// SamplePassword is the password given to sample participants.
const SamplePassword = "demo1234"

var scenarios = []ScenarioDTO{
	{
		ID:          "sample-catalog",
		Name:        "Sample Catalog",
		Description: "Three advertisement tasks of different lengths",
	},
	{
		ID:          "sample-participants",
		Name:        "Sample Participants",
		Description: "One participant with earnings and a pending withdrawal, one awaiting approval",
	},
}

var sampleTasks = []engine.TaskDraft{
	{URL: "https://ads.example.com/summer-sale", Reward: engine.MustMoney("40"), DurationSeconds: 15},
	{URL: "https://ads.example.com/new-phone", Reward: engine.MustMoney("25.50"), DurationSeconds: 30},
	{URL: "https://ads.example.com/travel-deals", Reward: engine.MustMoney("60"), DurationSeconds: 45},
}

// ListScenarios returns the available scenarios.
// GET /api/admin/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a scenario by id.
// POST /api/admin/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), adminFrom(r), req.ScenarioID); err != nil {
		if engine.IsNotFound(err) || engine.IsClientError(err) || engine.IsConflict(err) {
			writeEngineError(w, err)
			return
		}
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "unknown_scenario", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": req.ScenarioID})
}

// LoadScenarioByID runs the named loader.
func (h *Handler) LoadScenarioByID(ctx context.Context, by engine.AdminActor, id string) error {
	switch id {
	case "sample-catalog":
		_, err := h.loadSampleCatalog(ctx, by)
		return err
	case "sample-participants":
		return h.loadSampleParticipants(ctx, by)
	default:
		return fmt.Errorf("unknown scenario %q", id)
	}
}

// loadSampleCatalog creates the sample tasks that are missing and returns
// the ids of all sample tasks.
func (h *Handler) loadSampleCatalog(ctx context.Context, by engine.AdminActor) ([]engine.TaskID, error) {
	existing := make(map[string]engine.TaskID)
	for _, t := range h.Store.ListTasks() {
		existing[t.URL] = t.ID
	}

	ids := make([]engine.TaskID, 0, len(sampleTasks))
	for _, draft := range sampleTasks {
		if id, ok := existing[draft.URL]; ok {
			ids = append(ids, id)
			continue
		}
		task, err := h.Moderation.CreateTask(ctx, by, draft)
		if err != nil {
			return nil, fmt.Errorf("create sample task %s: %w", draft.URL, err)
		}
		ids = append(ids, task.ID)
	}
	return ids, nil
}

func (h *Handler) loadSampleParticipants(ctx context.Context, by engine.AdminActor) error {
	tasks, err := h.loadSampleCatalog(ctx, by)
	if err != nil {
		return err
	}

	if _, err := h.Store.UserByUsername("sample-alice"); err != nil {
		alice, err := h.Identity.CreateUser(ctx, by, "sample-alice", SamplePassword, engine.RoleUser)
		if err != nil {
			return fmt.Errorf("create sample-alice: %w", err)
		}
		// Earn the first two tasks: 40.00 + 25.50
		for _, taskID := range tasks[:2] {
			if _, err := h.Ledger.CreditCompletion(ctx, alice.ID, taskID); err != nil {
				return fmt.Errorf("credit sample-alice: %w", err)
			}
		}
		if _, err := h.Withdrawals.Submit(ctx, alice.ID, engine.WithdrawalRequest{
			Amount:             engine.MustMoney("50"),
			Method:             "PayPal",
			DestinationAccount: "alice@example.com",
		}); err != nil {
			return fmt.Errorf("sample-alice withdrawal: %w", err)
		}
	}

	if _, err := h.Store.UserByUsername("sample-bob"); err != nil {
		if _, err := h.Identity.Register(ctx, "sample-bob", SamplePassword); err != nil {
			return fmt.Errorf("register sample-bob: %w", err)
		}
	}
	return nil
}
