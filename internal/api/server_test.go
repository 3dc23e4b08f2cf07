package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"

	"lexrag/internal/auth"
	"lexrag/internal/config"
	"lexrag/internal/ingest"
	"lexrag/internal/models"
	"lexrag/internal/ragctx"
	"lexrag/internal/retrieval"
	"lexrag/internal/workflows"
)

type stubEngine struct {
	lastReq retrieval.Request
}

func (s *stubEngine) Search(_ context.Context, req retrieval.Request) retrieval.Envelope {
	s.lastReq = req
	return retrieval.Envelope{
		KB:            []models.ResultItem{{DocID: "d1", Title: "Օրենք"}},
		Practice:      []models.ResultItem{},
		RetrievalMode: retrieval.ModeKeywordOnly,
		RequestID:     req.RequestID,
	}
}

type stubRAG struct {
	lastUserID string
}

func (s *stubRAG) SearchKB(_ context.Context, _, _, _, requestID, userID string) ragctx.Result {
	s.lastUserID = userID
	return ragctx.Result{Envelope: retrieval.Envelope{RequestID: requestID}}
}
func (s *stubRAG) SearchPractice(_ context.Context, _, _, _, requestID, userID string) ragctx.Result {
	s.lastUserID = userID
	return ragctx.Result{Envelope: retrieval.Envelope{RequestID: requestID}}
}
func (s *stubRAG) DualSearch(_ context.Context, _, _, _, requestID, userID string) ragctx.Result {
	s.lastUserID = userID
	return ragctx.Result{Envelope: retrieval.Envelope{RequestID: requestID}}
}

type stubRunner struct {
	lastReq ingest.Request
	err     *ingest.Error
}

func (s *stubRunner) Run(_ context.Context, req ingest.Request) (ingest.Response, *ingest.Error) {
	s.lastReq = req
	if s.err != nil {
		return ingest.Response{}, s.err
	}
	return ingest.Response{Table: req.Table, Processed: 1, TotalRemaining: 3}, nil
}

type stubJobs struct {
	resetErr error
}

func (stubJobs) ListByState(_ context.Context, state string, _ int) ([]models.RetrievalJob, error) {
	if state != "" && state != "pending" && state != "dead_letter" {
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	return []models.RetrievalJob{{JobID: "j1", State: "pending"}}, nil
}
func (stubJobs) Retry(_ context.Context, _ string) error { return nil }
func (s stubJobs) ResetDeadLetter(_ context.Context, _ string) error {
	return s.resetErr
}

type stubAuth struct {
	principals map[string]auth.Principal
}

func (s stubAuth) Verify(_ context.Context, token string) (auth.Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return auth.Principal{}, errors.New("invalid token")
	}
	return p, nil
}

func testConfig() config.Config {
	return config.Config{
		InternalKey:    "secret-key",
		AllowedOrigins: []string{"https://app.example.am"},
		MaxSearchChars: 2_000_000,
		ChunkSize:      8000,
		ChunkOverlap:   150,
	}
}

func newTestServer(cfg config.Config) (*Server, *stubEngine, *stubRunner) {
	engine := &stubEngine{}
	runner := &stubRunner{}
	authClient := stubAuth{principals: map[string]auth.Principal{
		"admin-token": {UserID: "u1", Role: "admin"},
		"user-token":  {UserID: "u2", Role: "member"},
	}}
	return NewServer(cfg, engine, &stubRAG{}, runner, stubJobs{}, authClient), engine, runner
}

func postJSON(t *testing.T, h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSearchRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(testConfig())
	h := srv.Routes()

	w := postJSON(t, h, "/search", `{"query":"x"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, h, "/search", `{"query":"x"}`, map[string]string{"X-Internal-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, h, "/search", `{"query":"x"}`, map[string]string{"X-Internal-Key": "secret-key"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, h, "/search", `{"query":"x"}`, map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRAGSearchCarriesCallerIdentity(t *testing.T) {
	cfg := testConfig()
	rag := &stubRAG{}
	authClient := stubAuth{principals: map[string]auth.Principal{
		"user-token": {UserID: "u2", Role: "member"},
	}}
	srv := NewServer(cfg, &stubEngine{}, rag, &stubRunner{}, stubJobs{}, authClient)
	h := srv.Routes()

	w := postJSON(t, h, "/rag/search", `{"query":"x"}`, map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u2", rag.lastUserID)

	w = postJSON(t, h, "/rag/search", `{"query":"x"}`, map[string]string{"X-Internal-Key": "secret-key"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "internal", rag.lastUserID)
}

func TestSearchFailsClosedWithoutConfiguredKey(t *testing.T) {
	cfg := testConfig()
	cfg.InternalKey = ""
	srv, _, _ := newTestServer(cfg)

	w := postJSON(t, srv.Routes(), "/search", `{"query":"x"}`, map[string]string{"X-Internal-Key": ""})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSearchValidation(t *testing.T) {
	srv, _, _ := newTestServer(testConfig())
	h := srv.Routes()
	key := map[string]string{"X-Internal-Key": "secret-key"}

	w := postJSON(t, h, "/search", `not json`, key)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h, "/search", `{"query":"  "}`, key)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h, "/search", `{"query":"x","tables":"archive"}`, key)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEchoesRequestID(t *testing.T) {
	srv, engine, _ := newTestServer(testConfig())
	w := postJSON(t, srv.Routes(), "/search", `{"query":"x"}`, map[string]string{
		"X-Internal-Key": "secret-key",
		"X-Request-Id":   "req-777",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "req-777", w.Header().Get("X-Request-Id"))
	require.Equal(t, "req-777", engine.lastReq.RequestID)

	var env retrieval.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "req-777", env.RequestID)
}

func TestPayloadBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSearchChars = 100
	srv, _, _ := newTestServer(cfg)
	h := srv.Routes()
	key := map[string]string{"X-Internal-Key": "secret-key"}

	prefix := `{"query":"`
	suffix := `"}`
	pad := cfg.MaxSearchChars - len(prefix) - len(suffix)

	// exactly at the ceiling passes
	w := postJSON(t, h, "/search", prefix+strings.Repeat("a", pad)+suffix, key)
	require.Equal(t, http.StatusOK, w.Code)

	// one rune over fails with the structured 413 body
	w = postJSON(t, h, "/search", prefix+strings.Repeat("a", pad+1)+suffix, key)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Payload too large", resp["error"])
	require.Equal(t, float64(100), resp["max_chars"])
	require.Equal(t, float64(101), resp["received_chars"])
}

func TestCORSFailClosed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = nil
	srv, _, _ := newTestServer(cfg)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(t, h, "/search", `{"query":"x"}`, map[string]string{
		"Origin":         "https://evil.example.com",
		"X-Internal-Key": "secret-key",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	srv, _, _ := newTestServer(testConfig())
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "https://app.example.am")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.am", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBackfillAuth(t *testing.T) {
	srv, _, runner := newTestServer(testConfig())
	h := srv.Routes()
	body := `{"table":"kb","docId":"d1"}`

	w := postJSON(t, h, "/admin/backfill", body, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, h, "/admin/backfill", body, map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(t, h, "/admin/backfill", body, map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "kb", runner.lastReq.Table)
	// default chunk size and overlap injected from config
	require.Equal(t, 8000, runner.lastReq.ChunkSize)
	require.Equal(t, 150, runner.lastReq.Overlap)

	var resp ingest.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.TotalRemaining)
}

func TestBackfillTypedError(t *testing.T) {
	srv, _, runner := newTestServer(testConfig())
	runner.err = &ingest.Error{Status: http.StatusNotFound, Code: "not_found", Message: "document not found: d9"}

	w := postJSON(t, srv.Routes(), "/admin/backfill", `{"table":"kb","docId":"d9"}`,
		map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ingest.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "not_found", resp.Code)
}

func TestJobsEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(testConfig())
	h := srv.Routes()
	admin := map[string]string{"Authorization": "Bearer admin-token"}

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs?state=pending", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/jobs?state=bogus", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := postJSON(t, h, "/admin/jobs/j1/reset", "", admin)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = postJSON(t, h, "/admin/jobs/j1/unknown", "", admin)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestResetConflictWhenNotDeadLetter(t *testing.T) {
	cfg := testConfig()
	engine := &stubEngine{}
	srv := NewServer(cfg, engine, &stubRAG{}, &stubRunner{}, stubJobs{resetErr: errors.New("reset dead-letter job j1: not in dead_letter state")}, stubAuth{})

	w := postJSON(t, srv.Routes(), "/admin/jobs/j1/reset", "", map[string]string{"X-Internal-Key": "secret-key"})
	require.Equal(t, http.StatusConflict, w.Code)
}

type stubWorkflowRun struct{ id, runID string }

func (r stubWorkflowRun) GetID() string    { return r.id }
func (r stubWorkflowRun) GetRunID() string { return r.runID }
func (r stubWorkflowRun) Get(_ context.Context, _ any) error {
	return nil
}
func (r stubWorkflowRun) GetWithOptions(_ context.Context, _ any, _ tclient.WorkflowRunGetOptions) error {
	return nil
}

type stubStarter struct {
	lastOpts tclient.StartWorkflowOptions
	lastArgs []any
	err      error
}

func (s *stubStarter) ExecuteWorkflow(_ context.Context, options tclient.StartWorkflowOptions, _ any, args ...any) (tclient.WorkflowRun, error) {
	s.lastOpts = options
	s.lastArgs = args
	if s.err != nil {
		return nil, s.err
	}
	return stubWorkflowRun{id: options.ID, runID: "run-1"}, nil
}

func TestBackfillAsyncStartsWorkflow(t *testing.T) {
	cfg := testConfig()
	cfg.TemporalTaskQueue = "lexrag"
	srv, _, _ := newTestServer(cfg)
	starter := &stubStarter{}
	srv.WithTemporal(starter)
	admin := map[string]string{"X-Internal-Key": "secret-key"}

	w := postJSON(t, srv.Routes(), "/admin/backfill/async", `{"table":"kb"}`, admin)
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, strings.HasPrefix(body["workflow_id"], "backfill-kb-"))
	require.Equal(t, "run-1", body["run_id"])

	require.Equal(t, "lexrag", starter.lastOpts.TaskQueue)
	require.Len(t, starter.lastArgs, 1)
	input, ok := starter.lastArgs[0].(workflows.BackfillInput)
	require.True(t, ok)
	require.Equal(t, "kb", input.Table)
	require.Equal(t, 8000, input.ChunkSize)
}

func TestBackfillAsyncWithoutRuntime(t *testing.T) {
	srv, _, _ := newTestServer(testConfig())
	admin := map[string]string{"X-Internal-Key": "secret-key"}

	w := postJSON(t, srv.Routes(), "/admin/backfill/async", `{"table":"kb"}`, admin)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv.WithTemporal(&stubStarter{})
	w = postJSON(t, srv.Routes(), "/admin/backfill/async", `{"table":"archive"}`, admin)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
