package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintelli/internal/adapters/ai"
	"fintelli/internal/adapters/config"
	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/coordinator"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/post"
	"fintelli/internal/domain/run"
	"fintelli/internal/events"
	"fintelli/pkg/errors"
	"fintelli/pkg/retry"
)

// stubAgent returns an ok result unless told to block until its deadline
type stubAgent struct {
	name  string
	block bool
	gate  chan struct{}

	active    *atomic.Int32
	maxActive *atomic.Int32

	mu   sync.Mutex
	reqs []agents.Request
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Analyze(ctx context.Context, req agents.Request) schemas.AgentResult {
	return a.Run(ctx, req).Result
}

func (a *stubAgent) Run(ctx context.Context, req agents.Request) agents.Outcome {
	a.mu.Lock()
	a.reqs = append(a.reqs, req)
	a.mu.Unlock()

	if a.active != nil {
		n := a.active.Add(1)
		defer a.active.Add(-1)
		for {
			m := a.maxActive.Load()
			if n <= m || a.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return agents.Outcome{Result: schemas.Failed(a.name)}
		}
	}
	if a.block {
		<-ctx.Done()
		return agents.Outcome{Result: schemas.Failed(a.name)}
	}

	res := schemas.Empty(a.name, schemas.StatusOK)
	res.Confidence = 0.8
	res.Insights = []string{a.name + " insight"}
	return agents.Outcome{Result: res, Duration: time.Millisecond}
}

func (a *stubAgent) requests() []agents.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agents.Request{}, a.reqs...)
}

type fakePosts struct {
	mu          sync.Mutex
	unprocessed []post.Post
	processed   []post.Post
	listErr     error
	listFails   int
	listCalls   int
	markErr     error
}

func (f *fakePosts) Create(_ context.Context, p *post.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unprocessed = append(f.unprocessed, *p)
	return nil
}

func (f *fakePosts) ListUnprocessed(_ context.Context, _ post.Window, limit int) ([]post.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listFails > 0 {
		f.listFails--
		return nil, f.listErr
	}
	out := append([]post.Post{}, f.unprocessed...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePosts) ListProcessed(context.Context, post.Window, int) ([]post.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]post.Post{}, f.processed...), nil
}

func (f *fakePosts) MarkProcessed(_ context.Context, p *post.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.processed = append(f.processed, *p)
	return nil
}

type fakeInsights struct {
	mu    sync.Mutex
	saved []insight.Insight
	err   error
}

func (f *fakeInsights) CreateBatch(_ context.Context, in []insight.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, in...)
	return nil
}

func (f *fakeInsights) ListRecent(context.Context, int) ([]insight.Insight, error) {
	return f.saved, nil
}

func (f *fakeInsights) ListByRun(context.Context, string) ([]insight.Insight, error) {
	return f.saved, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []run.WorkflowRun
}

func (f *fakeRuns) Save(_ context.Context, r *run.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *r)
	return nil
}

func (f *fakeRuns) GetByID(context.Context, string) (*run.WorkflowRun, error) {
	return nil, errors.ErrNotFound
}

type fakeRecorder struct {
	executions []run.AgentExecution
}

func (f *fakeRecorder) RecordExecutions(_ context.Context, ex []run.AgentExecution) error {
	f.executions = append(f.executions, ex...)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	completed []*events.WorkflowCompletedEvent
	generated []*events.InsightsGeneratedEvent
	err       error
}

func (f *fakeEvents) PublishWorkflowCompleted(_ context.Context, e *events.WorkflowCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, e)
	return f.err
}

func (f *fakeEvents) PublishInsightsGenerated(_ context.Context, e *events.InsightsGeneratedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, e)
	return f.err
}

type harness struct {
	orch     *Orchestrator
	posts    *fakePosts
	insights *fakeInsights
	runs     *fakeRuns
	recorder *fakeRecorder
	events   *fakeEvents
	agents   map[string]*stubAgent
}

func testConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		SocialTimeout:     time.Second,
		MarketTimeout:     time.Second,
		CompetitorTimeout: time.Second,
		MaxConcurrency:    3,
		BatchSize:         50,
		DefaultQuery:      "mobile money",
		DefaultWindow:     24 * time.Hour,
	}
}

func newHarness(t *testing.T, cfg config.WorkflowConfig, posts *fakePosts, stubs ...*stubAgent) *harness {
	t.Helper()
	if posts == nil {
		posts = &fakePosts{}
	}
	if len(stubs) == 0 {
		for _, name := range schemas.AgentNames {
			stubs = append(stubs, &stubAgent{name: name})
		}
	}

	h := &harness{
		posts:    posts,
		insights: &fakeInsights{},
		runs:     &fakeRuns{},
		recorder: &fakeRecorder{},
		events:   &fakeEvents{},
		agents:   make(map[string]*stubAgent),
	}
	registry := agents.NewRegistry()
	for _, s := range stubs {
		registry.Register(s)
		h.agents[s.name] = s
	}

	h.orch = New(cfg, []string{"MTN MoMo", "Airtel Money"}, Deps{
		Posts:  posts,
		Agents: registry,
		Coordinator: coordinator.New(config.CoordinatorConfig{
			DivergenceThreshold: 0.6,
			PolarityThreshold:   0.3,
			DisagreementPenalty: 0.5,
			MaxTopInsights:      10,
		}, nil),
		Retry:    retry.New(retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		Insights: h.insights,
		Runs:     h.runs,
		Recorder: h.recorder,
		Events:   h.events,
	})
	t.Cleanup(h.orch.Close)
	return h
}

func TestRunWorkflow_Succeeded(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	report, err := h.orch.RunWorkflow(context.Background(), Params{Query: "mobile money fees"})
	require.NoError(t, err)

	assert.Len(t, report.PerAgent, 3)
	assert.Empty(t, report.FailedAgents())
	assert.Len(t, report.TopInsights, 3)

	st, ok := h.orch.Status(report.RunID)
	require.True(t, ok)
	assert.Equal(t, run.StateSucceeded, st.State)
	require.NotNil(t, st.Report)
	assert.False(t, st.FinishedAt.IsZero())

	require.Len(t, h.runs.runs, 1)
	saved := h.runs.runs[0]
	assert.Equal(t, run.StateSucceeded, saved.State)
	assert.Equal(t, "mobile money fees", saved.Query)

	var statuses map[string]string
	require.NoError(t, json.Unmarshal(saved.AgentStatuses, &statuses))
	assert.Equal(t, "ok", statuses[schemas.AgentMarketSentiment])

	// one summary plus three agent insights
	require.Len(t, h.insights.saved, 4)
	assert.Equal(t, insight.TypeInvestmentReport, h.insights.saved[0].Type)
	assert.Equal(t, insight.TypeAgentInsight, h.insights.saved[1].Type)

	assert.Len(t, h.recorder.executions, 3)
	assert.Len(t, h.events.completed, 1)
	assert.Len(t, h.events.generated, 1)
	assert.Equal(t, "SUCCEEDED", h.events.completed[0].State)
}

func TestRunWorkflow_AgentTimeoutYieldsPartial(t *testing.T) {
	cfg := testConfig()
	cfg.MarketTimeout = 50 * time.Millisecond

	h := newHarness(t, cfg, nil,
		&stubAgent{name: schemas.AgentSocialIntelligence},
		&stubAgent{name: schemas.AgentMarketSentiment, block: true},
		&stubAgent{name: schemas.AgentCompetitorAnalysis},
	)

	start := time.Now()
	report, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "slow agent must not block the run")

	assert.Equal(t, schemas.StatusFailed, report.PerAgent[schemas.AgentMarketSentiment].Status)
	assert.Equal(t, schemas.StatusOK, report.PerAgent[schemas.AgentSocialIntelligence].Status)
	assert.Contains(t, report.TopInsights, "Market sentiment analysis unavailable this run")

	st, _ := h.orch.Status(report.RunID)
	assert.Equal(t, run.StatePartial, st.State)
	assert.Equal(t, []string{schemas.AgentMarketSentiment}, h.events.completed[0].FailedAgents)
}

func TestRunWorkflow_AllAgentsFailedIsPartial(t *testing.T) {
	cfg := testConfig()
	cfg.SocialTimeout = 20 * time.Millisecond
	cfg.MarketTimeout = 20 * time.Millisecond
	cfg.CompetitorTimeout = 20 * time.Millisecond

	h := newHarness(t, cfg, nil,
		&stubAgent{name: schemas.AgentSocialIntelligence, block: true},
		&stubAgent{name: schemas.AgentMarketSentiment, block: true},
		&stubAgent{name: schemas.AgentCompetitorAnalysis, block: true},
	)

	report, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.NoError(t, err)

	assert.Len(t, report.FailedAgents(), 3)
	assert.NotEmpty(t, report.TopInsights)
	st, _ := h.orch.Status(report.RunID)
	assert.Equal(t, run.StatePartial, st.State)
}

func TestRunWorkflow_IngestionFailure(t *testing.T) {
	posts := &fakePosts{listErr: errors.New("permission denied for table posts"), listFails: 10}
	h := newHarness(t, testConfig(), posts)

	_, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIngestion))
	assert.Equal(t, 1, posts.listCalls, "permanent errors are not retried")

	require.Len(t, h.runs.runs, 1)
	assert.Equal(t, run.StateFailed, h.runs.runs[0].State)
	assert.NotEmpty(t, h.runs.runs[0].Error)
	assert.Empty(t, h.insights.saved)
	require.Len(t, h.events.completed, 1)
	assert.Equal(t, "FAILED", h.events.completed[0].State)
	assert.Empty(t, h.events.generated)

	for _, a := range h.agents {
		assert.Empty(t, a.requests(), "no agent runs after ingestion fails")
	}
}

func TestRunWorkflow_IngestionRetriesTransientErrors(t *testing.T) {
	posts := &fakePosts{
		listErr:   errors.NewConnectivityError("postgres", "select", errors.New("connection refused")),
		listFails: 2,
	}
	h := newHarness(t, testConfig(), posts)

	_, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, 3, posts.listCalls)
}

func TestRunWorkflow_ProcessingFailure(t *testing.T) {
	posts := &fakePosts{
		unprocessed: []post.Post{{ID: "p1", Content: "MTN mobile money fees keep rising", Timestamp: time.Now()}},
		markErr:     errors.New("constraint violation"),
	}
	h := newHarness(t, testConfig(), posts)

	report, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessing))
	assert.Empty(t, report.PerAgent)
	assert.Equal(t, run.StateFailed, h.runs.runs[0].State)
	assert.Equal(t, 1, h.runs.runs[0].PostsIngested)
}

func TestRunWorkflow_ProcessesBatchAndFeedsAgents(t *testing.T) {
	now := time.Now()
	posts := &fakePosts{unprocessed: []post.Post{
		{ID: "p1", Source: post.SourceTwitter, Content: "MTN mobile money transfer fees are too high for loans", Timestamp: now},
		{ID: "p2", Source: post.SourceTwitter, Content: "Lovely weather in Kampala today", Timestamp: now},
	}}
	h := newHarness(t, testConfig(), posts)

	report, err := h.orch.RunWorkflow(context.Background(), Params{Query: "fees", Window: 6 * time.Hour})
	require.NoError(t, err)

	require.Len(t, posts.processed, 2)
	for _, p := range posts.processed {
		assert.True(t, p.Processed)
		assert.NotNil(t, p.Sentiment)
	}

	reqs := h.agents[schemas.AgentSocialIntelligence].requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "fees", reqs[0].Query)
	assert.Equal(t, 6, reqs[0].Hours)
	assert.Equal(t, 6*time.Hour, reqs[0].Window)
	assert.Equal(t, []string{"MTN MoMo", "Airtel Money"}, reqs[0].Competitors)
	assert.Len(t, reqs[0].Posts, 2)

	st, _ := h.orch.Status(report.RunID)
	assert.Equal(t, 2, st.PostsIngested)
}

func TestRunWorkflow_SinkFailuresDoNotChangeState(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.insights.err = errors.New("insights table locked")
	h.events.err = errors.New("broker down")

	report, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.NoError(t, err)

	st, _ := h.orch.Status(report.RunID)
	assert.Equal(t, run.StateSucceeded, st.State)
	assert.Len(t, h.runs.runs, 1)
}

func TestRunWorkflow_BoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1

	var active, maxActive atomic.Int32
	var stubs []*stubAgent
	for _, name := range schemas.AgentNames {
		stubs = append(stubs, &stubAgent{name: name, active: &active, maxActive: &maxActive})
	}
	h := newHarness(t, cfg, nil, stubs...)

	_, err := h.orch.RunWorkflow(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestStart_StatusReadableDuringRun(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, testConfig(), nil,
		&stubAgent{name: schemas.AgentSocialIntelligence, gate: gate},
		&stubAgent{name: schemas.AgentMarketSentiment},
		&stubAgent{name: schemas.AgentCompetitorAnalysis},
	)

	runID, err := h.orch.Start(Params{Query: "agent banking"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		st, ok := h.orch.Status(runID)
		return ok && st.State == run.StateAnalyzing
	}, time.Second, 5*time.Millisecond)

	st, _ := h.orch.Status(runID)
	assert.Nil(t, st.Report)
	assert.Equal(t, "agent banking", st.Query)

	close(gate)
	require.Eventually(t, func() bool {
		st, _ := h.orch.Status(runID)
		return st.State == run.StateSucceeded
	}, time.Second, 5*time.Millisecond)

	st, _ = h.orch.Status(runID)
	require.NotNil(t, st.Report)
	assert.Equal(t, runID, st.Report.RunID)
}

func TestClose_CancelsBackgroundRuns(t *testing.T) {
	h := newHarness(t, testConfig(), nil,
		&stubAgent{name: schemas.AgentSocialIntelligence, block: true},
		&stubAgent{name: schemas.AgentMarketSentiment},
		&stubAgent{name: schemas.AgentCompetitorAnalysis},
	)

	runID, err := h.orch.Start(Params{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := h.orch.Status(runID)
		return st.State == run.StateAnalyzing
	}, time.Second, 5*time.Millisecond)

	h.orch.Close()

	st, _ := h.orch.Status(runID)
	assert.Equal(t, run.StatePartial, st.State)

	_, err = h.orch.Start(Params{})
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestStatus_UnknownRun(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, ok := h.orch.Status("missing")
	assert.False(t, ok)
}

func TestInsights_Projection(t *testing.T) {
	report := schemas.CompiledReport{
		RunID:            "run-1",
		OverallHealth:    7.2,
		OpportunityScore: 6,
		RiskLevel:        "medium",
		Confidence:       0.7,
		Highlights: []schemas.RankedInsight{
			{Text: "Competitor intelligence unavailable this run", Notice: true},
			{Text: "MTN leads share of voice", Agent: schemas.AgentCompetitorAnalysis, Confidence: 0.8},
		},
		GeneratedAt: time.Now(),
	}

	got := Insights(report)
	require.Len(t, got, 3)
	assert.Equal(t, "Market health 7.2/10, opportunity 6.0/10, risk medium", got[0].Content)
	assert.Equal(t, insight.TypeCoordinatorNote, got[1].Type)
	assert.Equal(t, "coordinator", got[1].Source)
	assert.Equal(t, insight.TypeAgentInsight, got[2].Type)
	assert.Equal(t, schemas.AgentCompetitorAnalysis, got[2].Source)
	for _, in := range got {
		assert.Equal(t, "run-1", in.RunID)
	}
}

type stubCompletion struct {
	reply string
	err   error
}

func (s stubCompletion) Name() ai.ProviderName { return ai.ProviderNameOpenAI }

func (s stubCompletion) Complete(context.Context, string) (string, error) { return s.reply, s.err }

func savedBriefing(t *testing.T, saved []insight.Insight) (insight.Insight, coordinator.Briefing) {
	t.Helper()
	for _, in := range saved {
		if in.Type == insight.TypeDailyBriefing {
			var b coordinator.Briefing
			require.NoError(t, json.Unmarshal([]byte(in.Content), &b))
			return in, b
		}
	}
	t.Fatalf("no daily briefing among %d insights", len(saved))
	return insight.Insight{}, coordinator.Briefing{}
}

func TestRunWorkflow_PersistsGeneratedBriefing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.orch.deps.Briefer = coordinator.NewBriefer(stubCompletion{reply: `{
		"title": "Uganda Fintech Daily Briefing",
		"executive_summary": "Mobile money fees dominate the conversation.",
		"sections": [{"title": "Market Overview", "content": "Stable."}],
		"key_takeaways": ["Fees are the main complaint"],
		"confidence": 0.9
	}`}, "Uganda", time.Second)

	report, err := h.orch.RunWorkflow(context.Background(), Params{Query: "mobile money fees"})
	require.NoError(t, err)

	require.Len(t, h.insights.saved, 5, "report summary, three agent insights and the briefing")
	in, b := savedBriefing(t, h.insights.saved)
	assert.Equal(t, report.RunID, in.RunID)
	assert.Equal(t, "coordinator", in.Source)
	assert.InDelta(t, 0.9, in.Confidence, 1e-9)
	assert.True(t, b.Generated)
	assert.Equal(t, "Mobile money fees dominate the conversation.", b.ExecutiveSummary)
	assert.Equal(t, report.RunID, b.RunID)
}

func TestRunWorkflow_PersistsFallbackBriefing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.orch.deps.Briefer = coordinator.NewBriefer(stubCompletion{reply: "I cannot produce JSON today"}, "Uganda", time.Second)

	report, err := h.orch.RunWorkflow(context.Background(), Params{Query: "mobile money fees"})
	require.NoError(t, err)

	in, b := savedBriefing(t, h.insights.saved)
	assert.Equal(t, report.RunID, in.RunID)
	assert.Equal(t, coordinator.FallbackBriefingConfidence, in.Confidence)
	assert.False(t, b.Generated)
	assert.Equal(t, "Uganda Fintech Daily Briefing - "+report.GeneratedAt.Format("2006-01-02"), b.Title)
	require.Len(t, b.Sections, 3)
}

func TestRunWorkflow_NoBriefingWithoutBriefer(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.orch.RunWorkflow(context.Background(), Params{Query: "mobile money fees"})
	require.NoError(t, err)
	for _, in := range h.insights.saved {
		assert.NotEqual(t, insight.TypeDailyBriefing, in.Type)
	}
}

func TestBriefingInsight(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := BriefingInsight(coordinator.Briefing{RunID: "run-1", Title: "T", Confidence: 0.8, GeneratedAt: at})

	assert.Equal(t, insight.TypeDailyBriefing, in.Type)
	assert.Equal(t, "run-1", in.RunID)
	assert.Equal(t, at, in.CreatedAt)
	assert.Contains(t, in.Content, `"title":"T"`)
}
