/*
scenarios_test.go - Tests for sample data loaders

Tests that each scenario leaves the store in the documented state and
that loading twice is harmless.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_SampleCatalog(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/scenarios/load", ts.adminToken, LoadScenarioRequest{ScenarioID: "sample-catalog"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/admin/tasks", ts.adminToken, nil)
	tasks := decode[[]TaskDTO](t, rec)
	require.Len(t, tasks, 3)
	assert.Equal(t, "40.00", tasks[0].Reward)
}

func TestScenario_SampleParticipants(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: The scenario is loaded twice
	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/admin/scenarios/load", ts.adminToken, LoadScenarioRequest{ScenarioID: "sample-participants"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	// THEN: Nothing is duplicated
	rec := ts.do(t, http.MethodGet, "/api/admin/stats", ts.adminToken, nil)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 1, stats.PendingApprovals)
	assert.Equal(t, 3, stats.TotalTasks)
	assert.Equal(t, 1, stats.PendingWithdrawals)
	assert.Equal(t, "50.00", stats.PendingAmount)

	// AND: The sample participant's ledger reconciles
	token := ts.login(t, "sample-alice", SamplePassword)
	assert.Equal(t, "15.50", ts.balance(t, token))

	rec = ts.do(t, http.MethodGet, "/api/me/tasks", token, nil)
	assert.Len(t, decode[[]TaskDTO](t, rec), 1)

	alice := userIDFor(t, ts, "sample-alice")
	rec2, err := ts.h.Ledger.Reconcile(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, rec2.Balanced())
}

func TestScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/scenarios/load", ts.adminToken, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_scenario", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/scenarios", ts.adminToken, nil)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 2)
}
