package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/cache"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/run"
	"fintelli/internal/vectorindex"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

const (
	defaultInsightLimit = 20
	maxInsightLimit     = 200
	maxWindowHours      = 24 * 30
)

// Workflows starts and inspects workflow runs
type Workflows interface {
	RunWorkflow(ctx context.Context, p workflow.Params) (schemas.CompiledReport, error)
	Start(p workflow.Params) (string, error)
	Status(runID string) (workflow.Status, bool)
	Defaults(p workflow.Params) workflow.Params
}

// Agents runs single analysis agents on demand
type Agents interface {
	List() []string
	Analyze(ctx context.Context, name string, req agents.Request) (agents.Outcome, error)
}

// Searcher answers free-text evidence queries
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Evidence, error)
}

// Deps are the collaborators of the HTTP handlers. Runs, Insights and
// Stats are optional; their endpoints answer 503 when absent.
type Deps struct {
	Workflows Workflows
	Agents    Agents
	Search    Searcher
	Runs      run.Repository
	Insights  insight.Repository
	Stats     run.ExecutionStats
	Reports   *cache.Layer[schemas.CompiledReport]
	ReportTTL time.Duration
	// DefaultWindow applies to requests that name no window
	DefaultWindow time.Duration
	MaxK          int
}

// Handler serves the JSON API
type Handler struct {
	deps Deps
	log  *logger.Logger
}

// NewHandler creates the API handler
func NewHandler(deps Deps) *Handler {
	if deps.ReportTTL <= 0 {
		deps.ReportTTL = 10 * time.Minute
	}
	if deps.DefaultWindow <= 0 {
		deps.DefaultWindow = 24 * time.Hour
	}
	if deps.MaxK <= 0 {
		deps.MaxK = vectorindex.DefaultMaxK
	}
	if deps.Reports == nil {
		deps.Reports = cache.New[schemas.CompiledReport](cache.Options{Namespace: "report"}, nil)
	}
	return &Handler{deps: deps, log: logger.Get().With("component", "api")}
}

// Register mounts the API routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", h.startWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", h.workflowStatus)
	mux.HandleFunc("GET /api/report", h.report)
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/stats", h.agentStats)
	mux.HandleFunc("POST /api/agents/{name}/analyze", h.analyze)
	mux.HandleFunc("GET /api/search", h.search)
	mux.HandleFunc("GET /api/insights", h.insights)
}

// workflowRequest is the body of POST /api/workflows
type workflowRequest struct {
	Query       string   `json:"query"`
	WindowHours int      `json:"window_hours"`
	Competitors []string `json:"competitors"`
}

func (req workflowRequest) params(def time.Duration) (workflow.Params, error) {
	if req.WindowHours < 0 || req.WindowHours > maxWindowHours {
		return workflow.Params{}, errors.NewValidationError("window_hours", "out of range", req.WindowHours)
	}
	window := def
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}
	return workflow.Params{Query: req.Query, Window: window, Competitors: req.Competitors}, nil
}

type startResponse struct {
	RunID string    `json:"run_id"`
	State run.State `json:"state"`
}

func (h *Handler) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	p, err := req.params(h.deps.DefaultWindow)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		report, err := h.deps.Workflows.RunWorkflow(r.Context(), p)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	runID, err := h.deps.Workflows.Start(p)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{RunID: runID, State: run.StatePending})
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if st, ok := h.deps.Workflows.Status(id); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}

	// runs evicted from memory or from another process
	if h.deps.Runs == nil {
		writeError(w, h.log, errors.Wrapf(errors.ErrNotFound, "run %s", id))
		return
	}
	wr, err := h.deps.Runs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// reportResponse is a compiled report with its cache provenance
type reportResponse struct {
	Report     schemas.CompiledReport `json:"report"`
	IsCacheHit bool                   `json:"is_cache_hit"`
	AgeSeconds int64                  `json:"age_seconds"`
	Freshness  string                 `json:"freshness"`
}

// report serves the latest report for a query. Concurrent dashboard
// refreshes share one workflow run.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	req := workflowRequest{Query: r.URL.Query().Get("query")}
	hours, err := intParam(r, "window_hours", 0, maxWindowHours)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	req.WindowHours = hours
	p, err := req.params(h.deps.DefaultWindow)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	p = h.deps.Workflows.Defaults(p)
	key := workflow.ReportKey(p.Query, p.Window)
	res, err := h.deps.Reports.GetOrCompute(r.Context(), key, h.deps.ReportTTL, func(ctx context.Context) (schemas.CompiledReport, error) {
		return h.deps.Workflows.RunWorkflow(ctx, p)
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		Report:     res.Value,
		IsCacheHit: res.IsCacheHit,
		AgeSeconds: res.AgeSeconds(),
		Freshness:  res.Freshness(),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"agents": h.deps.Agents.List()})
}

// analyzeRequest is the body of POST /api/agents/{name}/analyze
type analyzeRequest struct {
	Query       string   `json:"query"`
	Hours       int      `json:"hours"`
	Competitors []string `json:"competitors"`
	WindowHours int      `json:"window_hours"`
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if body.Hours < 0 || body.WindowHours < 0 || body.WindowHours > maxWindowHours {
		writeError(w, h.log, errors.NewValidationError("hours", "out of range", body.Hours))
		return
	}

	window := h.deps.DefaultWindow
	if body.WindowHours > 0 {
		window = time.Duration(body.WindowHours) * time.Hour
	}
	hours := body.Hours
	if hours == 0 {
		hours = int(window / time.Hour)
	}

	out, err := h.deps.Agents.Analyze(r.Context(), r.PathValue("name"), agents.Request{
		Query:       strings.TrimSpace(body.Query),
		Hours:       hours,
		Competitors: body.Competitors,
		Window:      window,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type searchResponse struct {
	Query    string                 `json:"query"`
	Evidence []vectorindex.Evidence `json:"evidence"`
	Degraded bool                   `json:"degraded"`
	Warning  string                 `json:"warning,omitempty"`
}

// search never fails once the query is valid: an unavailable index
// yields an empty, degraded answer
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, h.log, errors.NewValidationError("q", "is required", q))
		return
	}
	k, err := intParam(r, "k", h.deps.MaxK, h.deps.MaxK)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	evidence, err := h.deps.Search.Search(r.Context(), q, k)
	resp := searchResponse{Query: q, Evidence: evidence}
	if resp.Evidence == nil {
		resp.Evidence = []vectorindex.Evidence{}
	}
	if err != nil {
		resp.Degraded = true
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	if h.deps.Insights == nil {
		writeError(w, h.log, errors.Wrap(errors.ErrUnavailable, "insight history is not configured"))
		return
	}

	if runID := r.URL.Query().Get("run_id"); runID != "" {
		out, err := h.deps.Insights.ListByRun(r.Context(), runID)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]insight.Insight{"insights": out})
		return
	}

	limit, err := intParam(r, "limit", defaultInsightLimit, maxInsightLimit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out, err := h.deps.Insights.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]insight.Insight{"insights": out})
}

func (h *Handler) agentStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stats == nil {
		writeError(w, h.log, errors.Wrap(errors.ErrUnavailable, "execution analytics are not configured"))
		return
	}
	hours, err := intParam(r, "hours", 24, maxWindowHours)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	out, err := h.deps.Stats.Summaries(r.Context(), since)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"since": since, "agents": out})
}
