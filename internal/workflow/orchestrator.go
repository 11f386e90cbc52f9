package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintelli/internal/adapters/config"
	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/coordinator"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/post"
	"fintelli/internal/domain/run"
	"fintelli/internal/events"
	"fintelli/internal/metrics"
	"fintelli/internal/processing"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
	"fintelli/pkg/retry"
)

// maxTracked bounds how many finished runs Status remembers
const maxTracked = 200

// Params are the inputs of one run
type Params struct {
	Query       string        `json:"query"`
	Window      time.Duration `json:"window"`
	Competitors []string      `json:"competitors,omitempty"`
}

// Status is a snapshot of a run. Report is set once the run compiled one.
type Status struct {
	RunID          string                  `json:"run_id"`
	State          run.State               `json:"state"`
	Query          string                  `json:"query"`
	PostsIngested  int                     `json:"posts_ingested"`
	PostsProcessed int                     `json:"posts_processed"`
	Error          string                  `json:"error,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at,omitempty"`
	Report         *schemas.CompiledReport `json:"report,omitempty"`
}

// Indexer embeds processed posts into the vector index
type Indexer interface {
	IndexPosts(ctx context.Context, posts []post.Post) (int, error)
}

// Deps are the orchestrator's collaborators. Everything after Coordinator
// is optional.
type Deps struct {
	Posts       post.Repository
	Agents      *agents.Registry
	Coordinator *coordinator.Coordinator
	Briefer     *coordinator.Briefer // optional
	Processor   *processing.Processor
	Retry       *retry.Policy
	Indexer     Indexer
	Insights    insight.Repository
	Runs        run.Repository
	Recorder    run.ExecutionRecorder
	Events      events.Publisher
}

// Orchestrator drives runs through ingestion, processing, agent fan-out
// and compilation. Runs are independent and may overlap.
type Orchestrator struct {
	cfg         config.WorkflowConfig
	competitors []string
	deps        Deps
	// instance identifies this process as the source of its events
	instance string

	mu       sync.RWMutex
	runs     map[string]*Status
	finished []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logger.Logger
	now func() time.Time
}

// New creates an orchestrator. competitors is the default list for runs
// that name none.
func New(cfg config.WorkflowConfig, competitors []string, deps Deps) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(schemas.AgentNames)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 24 * time.Hour
	}
	if deps.Processor == nil {
		deps.Processor = processing.NewProcessor()
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.DefaultConfig())
	}
	if deps.Coordinator == nil {
		deps.Coordinator = coordinator.New(config.CoordinatorConfig{}, nil)
	}
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg,
		competitors: competitors,
		deps:        deps,
		instance:    "workflow/" + uuid.NewString(),
		runs:        make(map[string]*Status),
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.Get().With("component", "workflow"),
		now:         time.Now,
	}
}

// RunWorkflow executes a run synchronously. The error is non-nil only when
// the run ends FAILED; PARTIAL runs return their report.
func (o *Orchestrator) RunWorkflow(ctx context.Context, p Params) (schemas.CompiledReport, error) {
	p = o.withDefaults(p)
	runID := o.register(p)
	return o.execute(ctx, runID, p)
}

// Start launches a run in the background and returns its id. The run
// outlives the caller's request and stops only on Close.
func (o *Orchestrator) Start(p Params) (string, error) {
	select {
	case <-o.ctx.Done():
		return "", errors.Wrap(errors.ErrUnavailable, "orchestrator is shutting down")
	default:
	}

	p = o.withDefaults(p)
	runID := o.register(p)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.execute(o.ctx, runID, p)
	}()
	return runID, nil
}

// Status returns a snapshot of a tracked run
func (o *Orchestrator) Status(runID string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.runs[runID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// Instance returns the event source id of this orchestrator
func (o *Orchestrator) Instance() string {
	return o.instance
}

// Defaults fills the query, window and competitors a run would use
func (o *Orchestrator) Defaults(p Params) Params {
	return o.withDefaults(p)
}

// ReportKey is the cache key of the latest report for a query and window
func ReportKey(query string, window time.Duration) string {
	return agents.CacheKey("report", strings.ToLower(strings.TrimSpace(query)), window)
}

// Close cancels background runs and waits for them to finish
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) withDefaults(p Params) Params {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		p.Query = o.cfg.DefaultQuery
	}
	if p.Window <= 0 {
		p.Window = o.cfg.DefaultWindow
	}
	if len(p.Competitors) == 0 {
		p.Competitors = o.competitors
	}
	return p
}

func (o *Orchestrator) register(p Params) string {
	runID := uuid.NewString()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[runID] = &Status{
		RunID:     runID,
		State:     run.StatePending,
		Query:     p.Query,
		StartedAt: o.now().UTC(),
	}
	return runID
}

func (o *Orchestrator) update(runID string, fn func(st *Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.runs[runID]; ok {
		fn(st)
	}
}

func (o *Orchestrator) transition(runID string, state run.State) {
	o.update(runID, func(st *Status) { st.State = state })
	o.log.Debugw("Run state changed", "run_id", runID, "state", state)
}

// finish moves a run to its terminal state and forgets the oldest
// finished runs beyond maxTracked
func (o *Orchestrator) finish(runID string, state run.State, report *schemas.CompiledReport, runErr error) Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.runs[runID]
	if !ok {
		return Status{}
	}
	st.State = state
	st.FinishedAt = o.now().UTC()
	st.Report = report
	if runErr != nil {
		st.Error = runErr.Error()
	}

	o.finished = append(o.finished, runID)
	for len(o.finished) > maxTracked {
		delete(o.runs, o.finished[0])
		o.finished = o.finished[1:]
	}
	metrics.WorkflowRuns.WithLabelValues(string(state)).Inc()
	return *st
}

func (o *Orchestrator) execute(ctx context.Context, runID string, p Params) (schemas.CompiledReport, error) {
	log := o.log.With("run_id", runID)
	started := o.now()
	window := post.LastHours(started, p.Window)
	log.Infow("Workflow started", "query", p.Query, "window", p.Window)

	o.transition(runID, run.StateIngesting)
	stageStart := time.Now()
	raw, err := o.ingest(ctx, window)
	metrics.RecordStage("ingesting", time.Since(stageStart))
	if err != nil {
		return o.fail(ctx, runID, p, window, fmt.Errorf("%w: %w", errors.ErrIngestion, err))
	}
	o.update(runID, func(st *Status) { st.PostsIngested = len(raw) })

	o.transition(runID, run.StateProcessing)
	stageStart = time.Now()
	posts, processed, err := o.process(ctx, raw, window)
	metrics.RecordStage("processing", time.Since(stageStart))
	if err != nil {
		return o.fail(ctx, runID, p, window, fmt.Errorf("%w: %w", errors.ErrProcessing, err))
	}
	o.update(runID, func(st *Status) { st.PostsProcessed = processed })

	o.transition(runID, run.StateAnalyzing)
	stageStart = time.Now()
	outcomes := o.analyze(ctx, p, posts)
	metrics.RecordStage("analyzing", time.Since(stageStart))

	o.transition(runID, run.StateCompiling)
	stageStart = time.Now()
	results := make(map[string]schemas.AgentResult, len(outcomes))
	for name, out := range outcomes {
		results[name] = out.Result
	}
	report := o.deps.Coordinator.Compile(runID, results)
	metrics.RecordStage("compiling", time.Since(stageStart))

	var briefing *coordinator.Briefing
	if o.deps.Briefer != nil {
		stageStart = time.Now()
		b := o.deps.Briefer.Brief(ctx, report)
		metrics.RecordStage("briefing", time.Since(stageStart))
		briefing = &b
	}

	state := run.StateSucceeded
	if len(report.FailedAgents()) > 0 {
		state = run.StatePartial
	}

	o.persist(ctx, runRecord{
		id:        runID,
		state:     state,
		params:    p,
		window:    window,
		ingested:  len(raw),
		processed: processed,
		started:   started,
		outcomes:  outcomes,
		report:    &report,
		briefing:  briefing,
	})

	o.finish(runID, state, &report, nil)
	log.Infow("Workflow finished",
		"state", state,
		"confidence", report.Confidence,
		"failed_agents", report.FailedAgents(),
		"duration", o.now().Sub(started))
	return report, nil
}

func (o *Orchestrator) fail(ctx context.Context, runID string, p Params, window post.Window, runErr error) (schemas.CompiledReport, error) {
	o.log.Errorw("Workflow failed", "run_id", runID, "error", runErr)

	var ingested, processed int
	var started time.Time
	if st, ok := o.Status(runID); ok {
		ingested, processed, started = st.PostsIngested, st.PostsProcessed, st.StartedAt
	}
	o.persist(ctx, runRecord{
		id:        runID,
		state:     run.StateFailed,
		params:    p,
		window:    window,
		ingested:  ingested,
		processed: processed,
		started:   started,
		err:       runErr,
	})
	o.finish(runID, run.StateFailed, nil, runErr)
	return schemas.CompiledReport{}, runErr
}
