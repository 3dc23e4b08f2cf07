// Package api exposes the retrieval and admin HTTP surface. Handlers are
// thin: auth and CORS run in middleware, domain logic lives in the packages
// behind the Server's interface fields.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	tclient "go.temporal.io/sdk/client"

	"lexrag/internal/auth"
	"lexrag/internal/config"
	"lexrag/internal/ingest"
	"lexrag/internal/models"
	"lexrag/internal/ragctx"
	"lexrag/internal/retrieval"
	"lexrag/internal/workflows"
)

type SearchEngine interface {
	Search(ctx context.Context, req retrieval.Request) retrieval.Envelope
}

type RAGOrchestrator interface {
	SearchKB(ctx context.Context, query, profile, userFacts, requestID, userID string) ragctx.Result
	SearchPractice(ctx context.Context, query, profile, userFacts, requestID, userID string) ragctx.Result
	DualSearch(ctx context.Context, query, profile, userFacts, requestID, userID string) ragctx.Result
}

type BackfillRunner interface {
	Run(ctx context.Context, req ingest.Request) (ingest.Response, *ingest.Error)
}

type JobStore interface {
	ListByState(ctx context.Context, state string, limit int) ([]models.RetrievalJob, error)
	Retry(ctx context.Context, jobID string) error
	ResetDeadLetter(ctx context.Context, jobID string) error
}

type AuthClient interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

// WorkflowStarter is the slice of the Temporal client the server uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow any, args ...any) (tclient.WorkflowRun, error)
}

type Server struct {
	cfg      config.Config
	engine   SearchEngine
	rag      RAGOrchestrator
	backfill BackfillRunner
	jobs     JobStore
	auth     AuthClient
	temporal WorkflowStarter
}

func NewServer(cfg config.Config, engine SearchEngine, rag RAGOrchestrator, backfill BackfillRunner, jobs JobStore, authClient AuthClient) *Server {
	return &Server{cfg: cfg, engine: engine, rag: rag, backfill: backfill, jobs: jobs, auth: authClient}
}

// WithTemporal enables the async backfill endpoint. Without it the endpoint
// answers 503.
func (s *Server) WithTemporal(tc WorkflowStarter) *Server {
	s.temporal = tc
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/search", s.requireCaller(s.handleSearch))
	mux.HandleFunc("/rag/search", s.requireCaller(s.handleRAGSearch))
	mux.HandleFunc("/admin/backfill", s.requireAdmin(s.handleBackfill))
	mux.HandleFunc("/admin/backfill/async", s.requireAdmin(s.handleBackfillAsync))
	mux.HandleFunc("/admin/jobs", s.requireAdmin(s.handleJobs))
	mux.HandleFunc("/admin/jobs/", s.requireAdmin(s.handleJobAction))
	return s.withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type searchRequest struct {
	Query    string `json:"query"`
	Tables   string `json:"tables"`
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	body, ok := s.readBounded(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	if req.Tables == "" {
		req.Tables = models.TableBoth
	}
	if req.Tables != models.TableKB && req.Tables != models.TablePractice && req.Tables != models.TableBoth {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("tables must be kb, practice or both"))
		return
	}

	requestID := requestIDFrom(r)
	env := s.engine.Search(r.Context(), retrieval.Request{
		Query:     req.Query,
		Tables:    req.Tables,
		Limit:     req.Limit,
		Category:  req.Category,
		RequestID: requestID,
	})
	w.Header().Set("X-Request-Id", env.RequestID)
	writeJSON(w, http.StatusOK, env)
}

type ragSearchRequest struct {
	Query     string `json:"query"`
	Tables    string `json:"tables"`
	Profile   string `json:"profile"`
	UserFacts string `json:"userFacts,omitempty"`
}

func (s *Server) handleRAGSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	body, ok := s.readBounded(w, r)
	if !ok {
		return
	}
	var req ragSearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	requestID := requestIDFrom(r)
	userID := callerFrom(r.Context()).UserID
	var res ragctx.Result
	switch req.Tables {
	case models.TableKB:
		res = s.rag.SearchKB(r.Context(), req.Query, req.Profile, req.UserFacts, requestID, userID)
	case models.TablePractice:
		res = s.rag.SearchPractice(r.Context(), req.Query, req.Profile, req.UserFacts, requestID, userID)
	case models.TableBoth, "":
		res = s.rag.DualSearch(r.Context(), req.Query, req.Profile, req.UserFacts, requestID, userID)
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("tables must be kb, practice or both"))
		return
	}

	w.Header().Set("X-Request-Id", res.Envelope.RequestID)
	writeJSON(w, http.StatusOK, map[string]any{
		"envelope": res.Envelope,
		"sections": res.Sections,
	})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = s.cfg.ChunkSize
	}
	if req.Overlap == 0 {
		req.Overlap = s.cfg.ChunkOverlap
	}
	resp, ferr := s.backfill.Run(r.Context(), req)
	if ferr != nil {
		writeJSON(w, ferr.Status, ferr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBackfillAsync hands the whole backlog drain to a Temporal workflow
// instead of running a single bounded batch inline.
func (s *Server) handleBackfillAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow runtime not configured"))
		return
	}
	var input workflows.BackfillInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if input.Table != models.TableKB && input.Table != models.TablePractice {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("table must be %q or %q", models.TableKB, models.TablePractice))
		return
	}
	if input.ChunkSize == 0 {
		input.ChunkSize = s.cfg.ChunkSize
	}

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "backfill-" + input.Table + "-" + uuid.New().String(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.BackfillWorkflow, input)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	state := r.URL.Query().Get("state")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	jobs, err := s.jobs.ListByState(r.Context(), state, limit)
	if err != nil {
		if strings.Contains(err.Error(), "unknown job state") {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJobAction serves POST /admin/jobs/{id}/reset and
// POST /admin/jobs/{id}/retry.
func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/admin/jobs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	jobID, action := parts[0], parts[1]

	var err error
	switch action {
	case "reset":
		err = s.jobs.ResetDeadLetter(r.Context(), jobID)
	case "retry":
		err = s.jobs.Retry(r.Context(), jobID)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if err != nil {
		if strings.Contains(err.Error(), "not in") {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "action": action})
}

// readBounded reads the raw body and enforces the character ceiling before
// any JSON decoding. The ceiling counts runes, not bytes, so Armenian text
// is not penalized for its UTF-8 width.
func (s *Server) readBounded(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	maxChars := s.cfg.MaxSearchChars
	// A rune is at most 4 bytes; anything beyond this cannot fit the
	// ceiling and reading it fully would only waste memory.
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxChars)*4+1)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writePayloadTooLarge(w, maxChars, maxChars+1)
		return nil, false
	}
	if received := utf8.RuneCount(body); received > maxChars {
		writePayloadTooLarge(w, maxChars, received)
		return nil, false
	}
	return body, true
}

func writePayloadTooLarge(w http.ResponseWriter, maxChars, receivedChars int) {
	writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
		"error":          "Payload too large",
		"max_chars":      maxChars,
		"received_chars": receivedChars,
	})
}

func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-Id")); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
