package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/engine/store"
	"github.com/warp/task-ledger/identity"
	"golang.org/x/crypto/bcrypt"
)

// testServer wires the full HTTP stack over an in-memory store.
type testServer struct {
	h          *Handler
	router     http.Handler
	ticker     *SessionTicker
	now        time.Time
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	ledgerStore, err := engine.OpenLedgerStore(ctx, store.NewMemory(), engine.DefaultSettings())
	require.NoError(t, err)

	ident, err := identity.NewService(ledgerStore, engine.NewModeration(ledgerStore),
		"test-secret", time.Hour, identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	_, err = ident.EnsureAdmin(ctx, "admin", "admin")
	require.NoError(t, err)

	ts := &testServer{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	surfaces := NewSurfaceRegistry(15 * time.Second)
	surfaces.now = func() time.Time { return ts.now }

	ts.h = NewHandler(ledgerStore, ident, surfaces)
	ts.router = NewRouter(ts.h, RouterOptions{
		Metrics: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	})
	ts.ticker = NewSessionTicker(ledgerStore, ts.h.Sessions)
	ts.adminToken = ts.login(t, "admin", "admin")
	return ts
}

func (ts *testServer) advance(d time.Duration) {
	ts.now = ts.now.Add(d)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[LoginResponse](t, rec).Token
}

// member registers, approves and signs in a participant.
func (ts *testServer) member(t *testing.T, username string) (engine.UserID, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: username, Password: "secret"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[UserDTO](t, rec).ID

	rec = ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/approve", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return engine.UserID(id), ts.login(t, username, "secret")
}

// task creates a task through the admin API.
func (ts *testServer) task(t *testing.T, url, reward string, seconds int) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/admin/tasks", ts.adminToken, map[string]any{
		"url":              url,
		"reward":           reward,
		"duration_seconds": seconds,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TaskDTO](t, rec).ID
}

// fund credits a completed task directly through the ledger.
func (ts *testServer) fund(t *testing.T, userID engine.UserID, amount string) {
	t.Helper()
	taskID := ts.task(t, "https://ads.example.com/fund-"+string(userID)+"-"+amount, amount, 5)
	_, err := ts.h.Ledger.CreditCompletion(context.Background(), userID, engine.TaskID(taskID))
	require.NoError(t, err)
}

func (ts *testServer) balance(t *testing.T, token string) string {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[UserDTO](t, rec).Balance
}
