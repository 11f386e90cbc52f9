package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/api/health"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/run"
	"fintelli/internal/vectorindex"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

type fakeWorkflows struct {
	mu       sync.Mutex
	params   []workflow.Params
	report   schemas.CompiledReport
	err      error
	delay    time.Duration
	runs     atomic.Int32
	statuses map[string]workflow.Status
}

func (f *fakeWorkflows) RunWorkflow(ctx context.Context, p workflow.Params) (schemas.CompiledReport, error) {
	f.runs.Add(1)
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return schemas.CompiledReport{}, ctx.Err()
		}
	}
	return f.report, f.err
}

func (f *fakeWorkflows) Start(p workflow.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return "", f.err
	}
	return "run-42", nil
}

func (f *fakeWorkflows) Status(id string) (workflow.Status, bool) {
	st, ok := f.statuses[id]
	return st, ok
}

func (f *fakeWorkflows) Defaults(p workflow.Params) workflow.Params {
	if p.Query == "" {
		p.Query = "mobile money"
	}
	return p
}

func (f *fakeWorkflows) lastParams() workflow.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

type fakeAgents struct {
	req agents.Request
}

func (f *fakeAgents) List() []string { return schemas.AgentNames }

func (f *fakeAgents) Analyze(_ context.Context, name string, req agents.Request) (agents.Outcome, error) {
	if name != schemas.AgentMarketSentiment {
		return agents.Outcome{}, errors.Wrapf(errors.ErrNotFound, "agent %s", name)
	}
	f.req = req
	res := schemas.Empty(name, schemas.StatusOK)
	res.Insights = []string{"Fees dominate complaints"}
	return agents.Outcome{Result: res, CacheHit: true, AgeSeconds: 60, Freshness: "cached 1 minute ago"}, nil
}

type fakeSearch struct {
	evidence []vectorindex.Evidence
	err      error
	k        int
}

func (f *fakeSearch) Search(_ context.Context, _ string, k int) ([]vectorindex.Evidence, error) {
	f.k = k
	return f.evidence, f.err
}

type fakeRuns struct {
	runs map[string]*run.WorkflowRun
}

func (f *fakeRuns) Save(context.Context, *run.WorkflowRun) error { return nil }

func (f *fakeRuns) GetByID(_ context.Context, id string) (*run.WorkflowRun, error) {
	if wr, ok := f.runs[id]; ok {
		return wr, nil
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
}

type fakeInsights struct {
	limit int
	runID string
}

func (f *fakeInsights) CreateBatch(context.Context, []insight.Insight) error { return nil }

func (f *fakeInsights) ListRecent(_ context.Context, limit int) ([]insight.Insight, error) {
	f.limit = limit
	return []insight.Insight{{RunID: "run-1", Type: insight.TypeAgentInsight, Content: "Youth adoption rising"}}, nil
}

func (f *fakeInsights) ListByRun(_ context.Context, runID string) ([]insight.Insight, error) {
	f.runID = runID
	return []insight.Insight{}, nil
}

type fakeStats struct{}

func (fakeStats) Summaries(context.Context, time.Time) ([]run.AgentSummary, error) {
	return []run.AgentSummary{{Agent: schemas.AgentSocialIntelligence, Executions: 4, CacheHits: 2}}, nil
}

type apiHarness struct {
	server    *httptest.Server
	workflows *fakeWorkflows
	agents    *fakeAgents
	search    *fakeSearch
	insights  *fakeInsights
}

func newAPIHarness(t *testing.T, mutate func(*Deps)) *apiHarness {
	t.Helper()
	h := &apiHarness{
		workflows: &fakeWorkflows{
			report:   schemas.CompiledReport{RunID: "run-1", OverallHealth: 7.2, RiskLevel: "medium"},
			statuses: map[string]workflow.Status{"run-live": {RunID: "run-live", State: run.StateAnalyzing}},
		},
		agents:   &fakeAgents{},
		search:   &fakeSearch{},
		insights: &fakeInsights{},
	}
	deps := Deps{
		Workflows: h.workflows,
		Agents:    h.agents,
		Search:    h.search,
		Runs:      &fakeRuns{runs: map[string]*run.WorkflowRun{"run-old": {ID: "run-old", State: run.StatePartial}}},
		Insights:  h.insights,
		Stats:     fakeStats{},
		MaxK:      5,
	}
	if mutate != nil {
		mutate(&deps)
	}

	log := logger.NewNop()
	router := NewRouter(ServerConfig{ServiceName: "fintelli", Version: "test"},
		health.New(log, "fintelli", "test"), NewHandler(deps), log)
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestStartWorkflow_Async(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/workflows", `{"query":"mobile money","window_hours":48}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-42", body["run_id"])
	assert.Equal(t, "PENDING", body["state"])

	p := h.workflows.lastParams()
	assert.Equal(t, "mobile money", p.Query)
	assert.Equal(t, 48*time.Hour, p.Window)
}

func TestStartWorkflow_Wait(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/workflows?wait=true", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, 7.2, body["overall_health"])
	assert.Equal(t, 24*time.Hour, h.workflows.lastParams().Window)
}

func TestStartWorkflow_FailedRunMapsToStatus(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.workflows.err = errors.Wrap(errors.ErrConnectivity, "posts store")

	resp, body := h.do(t, http.MethodPost, "/api/workflows?wait=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body["error"], "posts store")
}

func TestStartWorkflow_RejectsBadBody(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, _ := h.do(t, http.MethodPost, "/api/workflows", `{"window_hours":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/workflows", `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowStatus(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/api/workflows/run-live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ANALYZING", body["state"])

	// falls back to persisted runs
	resp, body = h.do(t, http.MethodGet, "/api/workflows/run-old", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PARTIAL", body["state"])

	resp, _ = h.do(t, http.MethodGet, "/api/workflows/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReport_ConcurrentRefreshesShareOneRun(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.workflows.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := h.do(t, http.MethodGet, "/api/report?query=mobile+money", "")
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
	assert.Equal(t, int32(1), h.workflows.runs.Load())

	resp, body := h.do(t, http.MethodGet, "/api/report?query=mobile+money", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_cache_hit"])
	assert.Equal(t, int32(1), h.workflows.runs.Load())
}

func TestReport_FailedRunIsNotCached(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.workflows.err = errors.Wrap(errors.ErrIngestion, "posts store down")

	resp, _ := h.do(t, http.MethodGet, "/api/report", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	h.workflows.err = nil
	resp, body := h.do(t, http.MethodGet, "/api/report", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_cache_hit"])
	assert.Equal(t, int32(2), h.workflows.runs.Load())
}

func TestAnalyze(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/agents/marketSentiment/analyze", `{"hours":12}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cache_hit"])
	assert.Equal(t, "cached 1 minute ago", body["freshness"])
	assert.Equal(t, 12, h.agents.req.Hours)
	assert.Equal(t, 24*time.Hour, h.agents.req.Window)

	resp, _ = h.do(t, http.MethodPost, "/api/agents/nobody/analyze", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/api/agents", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["agents"], 3)
}

func TestSearch(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.search.evidence = []vectorindex.Evidence{{DocID: "tw-1", Content: "MoMo fees", Similarity: 0.9}}

	resp, body := h.do(t, http.MethodGet, "/api/search?q=fees&k=50", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["evidence"], 1)
	assert.Equal(t, false, body["degraded"])
	assert.Equal(t, 5, h.search.k, "k is capped at the index max")

	resp, _ = h.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/search?q=fees&k=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearch_DegradedIsNotAnError(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.search.evidence = []vectorindex.Evidence{}
	h.search.err = errors.Wrap(errors.ErrConnectivity, "vector index")

	resp, body := h.do(t, http.MethodGet, "/api/search?q=fees", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["degraded"])
	assert.Empty(t, body["evidence"])
}

func TestInsights(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/api/insights?limit=1000", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["insights"], 1)
	assert.Equal(t, maxInsightLimit, h.insights.limit)

	resp, _ = h.do(t, http.MethodGet, "/api/insights?run_id=run-7", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-7", h.insights.runID)
}

func TestOptionalStoresAnswerUnavailable(t *testing.T) {
	h := newAPIHarness(t, func(d *Deps) {
		d.Insights = nil
		d.Stats = nil
	})

	resp, _ := h.do(t, http.MethodGet, "/api/insights", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/agents/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAgentStats(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/api/agents/stats?hours=6", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["agents"], 1)
}

func TestProbesAndRoot(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fintelli", body["service"])

	resp, _ = h.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
