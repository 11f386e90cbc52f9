package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"fintelli/internal/adapters/ai"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/cache"
	"fintelli/internal/domain/post"
	"fintelli/internal/metrics"
	"fintelli/internal/vectorindex"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
	"fintelli/pkg/templates"
)

// Agent turns a batch of posts into a validated AgentResult
type Agent interface {
	Name() string
	// Analyze never fails: completion or parse problems yield a fallback
	// result and an expired ctx yields a failed one.
	Analyze(ctx context.Context, req Request) schemas.AgentResult
	// Run is Analyze plus cache and timing metadata
	Run(ctx context.Context, req Request) Outcome
}

// Request is one analysis invocation. Which input field matters depends on
// the agent: Query for socialIntelligence, Hours for marketSentiment,
// Competitors for competitorAnalysis.
type Request struct {
	Query       string
	Hours       int
	Competitors []string
	// Window is the historical lookback
	Window time.Duration
	// Posts are the run's processed posts; nil loads them from the post store
	Posts []post.Post
}

// Outcome is an agent result with the metadata callers show or record
type Outcome struct {
	Result     schemas.AgentResult `json:"result"`
	CacheHit   bool                `json:"cache_hit"`
	AgeSeconds int64               `json:"age_seconds"`
	Freshness  string              `json:"freshness"`
	Duration   time.Duration       `json:"-"`
}

// PostLister loads processed posts for on-demand runs
type PostLister interface {
	ListProcessed(ctx context.Context, window post.Window, limit int) ([]post.Post, error)
}

// EvidenceSearcher retrieves similar historical posts
type EvidenceSearcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Evidence, error)
}

// Deps are the collaborators shared by every agent
type Deps struct {
	Completion ai.CompletionService
	Evidence   EvidenceSearcher // optional
	Posts      PostLister       // optional
	Store      cache.Store      // optional, shares results across processes
	Templates  *templates.Registry
	CacheOpts  cache.Options
	Region     string
	// EvidenceK is how many similar posts go into a prompt
	EvidenceK int
	// PostLimit caps posts loaded for on-demand runs
	PostLimit int
}

// variant is what differs between the analysis agents
type variant interface {
	name() string
	template() string
	ttl() time.Duration
	// input is the canonical agent-specific input used in the cache key
	input(req Request) string
	evidenceQuery(req Request) string
	selectPosts(posts []post.Post, req Request) []post.Post
	// baseline computes the local, model-free analysis and fills prompt data
	baseline(posts []post.Post, req Request, data *promptData) schemas.AgentResult
	merge(local, parsed schemas.AgentResult) schemas.AgentResult
	fallback(local schemas.AgentResult, req Request) schemas.AgentResult
}

// fallbackError carries a fallback result out of a cache computation so it
// is returned to the caller without being cached
type fallbackError struct {
	result schemas.AgentResult
	cause  error
}

func (e *fallbackError) Error() string {
	return "fallback: " + e.cause.Error()
}

func (e *fallbackError) Unwrap() error {
	return e.cause
}

type agent struct {
	v     variant
	deps  Deps
	cache *cache.Layer[schemas.AgentResult]
	log   *logger.Logger
	now   func() time.Time
}

func newAgent(v variant, deps Deps) *agent {
	if deps.Templates == nil {
		deps.Templates = templates.Get()
	}
	if deps.EvidenceK <= 0 {
		deps.EvidenceK = vectorindex.DefaultMaxK
	}
	if deps.PostLimit <= 0 {
		deps.PostLimit = 500
	}
	if deps.Region == "" {
		deps.Region = "Uganda"
	}

	opts := deps.CacheOpts
	opts.Namespace = "agent:" + v.name()
	return &agent{
		v:     v,
		deps:  deps,
		cache: cache.New[schemas.AgentResult](opts, deps.Store),
		log:   logger.Get().With("component", "agent", "agent", v.name()),
		now:   time.Now,
	}
}

func (a *agent) Name() string {
	return a.v.name()
}

// Purge drops expired entries from the local result cache
func (a *agent) Purge() int {
	return a.cache.Purge()
}

// Len returns the number of locally cached results
func (a *agent) Len() int {
	return a.cache.Len()
}

func (a *agent) Analyze(ctx context.Context, req Request) schemas.AgentResult {
	return a.Run(ctx, req).Result
}

func (a *agent) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	key := CacheKey(a.v.name(), a.v.input(req), req.Window)

	res, err := a.cache.GetOrCompute(ctx, key, a.v.ttl(), func(cctx context.Context) (schemas.AgentResult, error) {
		return a.compute(cctx, req)
	})

	out := Outcome{Duration: time.Since(start)}
	switch {
	case err == nil:
		out.Result = res.Value.Clone()
		out.CacheHit = res.IsCacheHit
		out.AgeSeconds = res.AgeSeconds()
		out.Freshness = res.Freshness()
	case ctx.Err() != nil:
		a.log.Warnw("Agent did not finish before its deadline", "error", ctx.Err())
		out.Result = schemas.Failed(a.v.name())
	default:
		var fb *fallbackError
		if errors.As(err, &fb) {
			out.Result = fb.result.Clone()
		} else {
			out.Result = a.fallback(schemas.Empty(a.v.name(), schemas.StatusFallback), req)
		}
		a.log.Warnw("Agent returned fallback result", "error", err)
	}

	if verr := out.Result.Validate(); verr != nil {
		// A result that fails validation never leaves the agent
		a.log.Errorw("Agent produced invalid result", "error", verr)
		out.Result = a.fallback(schemas.Empty(a.v.name(), schemas.StatusFallback), req)
	}

	metrics.RecordAgentResult(a.v.name(), string(out.Result.Status), out.Duration)
	a.log.Debugw("Agent finished",
		"status", out.Result.Status,
		"confidence", out.Result.Confidence,
		"cache_hit", out.CacheHit,
		"duration", out.Duration)
	return out
}

func (a *agent) compute(ctx context.Context, req Request) (schemas.AgentResult, error) {
	posts, err := a.loadPosts(ctx, req)
	if err != nil {
		return schemas.AgentResult{}, &fallbackError{
			result: a.fallback(schemas.Empty(a.v.name(), schemas.StatusFallback), req),
			cause:  err,
		}
	}

	selected := a.v.selectPosts(posts, req)
	data := &promptData{
		Region:      a.deps.Region,
		Query:       req.Query,
		Hours:       windowHours(req),
		Competitors: req.Competitors,
		PostCount:   len(selected),
		Samples:     samples(selected, maxSamples),
	}
	local := a.v.baseline(selected, req, data)
	local.AgentName = a.v.name()
	local.Normalize()
	data.Local = local
	data.Evidence = a.evidence(ctx, req)

	prompt, err := a.deps.Templates.Render(a.v.template(), data)
	if err != nil {
		return schemas.AgentResult{}, &fallbackError{result: a.fallback(local, req), cause: err}
	}

	text, err := a.deps.Completion.Complete(ctx, prompt)
	if err != nil {
		return schemas.AgentResult{}, &fallbackError{result: a.fallback(local, req), cause: errors.Wrap(err, "completion")}
	}

	parsed, err := schemas.Parse(a.v.name(), text)
	if err != nil {
		a.log.Warnw("Unparsable completion", "error", err, "output", templates.Truncate(200, text))
		return schemas.AgentResult{}, &fallbackError{result: a.fallback(local, req), cause: err}
	}

	result := a.v.merge(local, parsed)
	result.AgentName = a.v.name()
	result.Status = schemas.StatusOK
	if result.Confidence <= 0 {
		result.Confidence = dataConfidence(len(selected))
	}
	result.CreatedAt = a.now().UTC()
	result.Normalize()
	if err := result.Validate(); err != nil {
		return schemas.AgentResult{}, &fallbackError{result: a.fallback(local, req), cause: err}
	}
	return result, nil
}

// fallback builds the deterministic result for an unusable completion
func (a *agent) fallback(local schemas.AgentResult, req Request) schemas.AgentResult {
	res := a.v.fallback(local, req)
	res.AgentName = a.v.name()
	res.Status = schemas.StatusFallback
	res.Confidence = 0
	res.CreatedAt = a.now().UTC()
	res.Normalize()
	if len(res.Insights) == 0 {
		res.Insights = []string{"Analysis unavailable, showing keyword-based metrics only"}
	}
	return res
}

func (a *agent) loadPosts(ctx context.Context, req Request) ([]post.Post, error) {
	if req.Posts != nil {
		return req.Posts, nil
	}
	if a.deps.Posts == nil {
		return []post.Post{}, nil
	}
	window := req.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	posts, err := a.deps.Posts.ListProcessed(ctx, post.LastHours(a.now(), window), a.deps.PostLimit)
	if err != nil {
		return nil, errors.Wrap(err, "load posts")
	}
	return posts, nil
}

func (a *agent) evidence(ctx context.Context, req Request) []vectorindex.Evidence {
	if a.deps.Evidence == nil {
		return nil
	}
	q := a.v.evidenceQuery(req)
	ev, err := a.deps.Evidence.Search(ctx, q, a.deps.EvidenceK)
	if err != nil {
		a.log.Debugw("Evidence unavailable", "query", q, "error", err)
	}
	return ev
}

// CacheKey derives the cache key for one agent invocation
func CacheKey(agentName, input string, window time.Duration) string {
	canonical, _ := json.Marshal(struct {
		Agent  string `json:"agent"`
		Input  string `json:"input"`
		Window int64  `json:"window_seconds"`
	}{agentName, input, int64(window / time.Second)})
	sum := sha256.Sum256(canonical)
	return agentName + ":" + hex.EncodeToString(sum[:])
}

// dataConfidence is used when the model does not state a confidence
func dataConfidence(posts int) float64 {
	if posts == 0 {
		return 0.1
	}
	c := 0.3 + 0.02*float64(posts)
	if c > 0.9 {
		c = 0.9
	}
	return c
}

// WindowHours converts a window to whole hours, rounding up so a window
// shorter than an hour still selects the latest hour of posts
func WindowHours(window time.Duration) int {
	if window <= 0 {
		return 0
	}
	return int((window + time.Hour - 1) / time.Hour)
}

func windowHours(req Request) int {
	if req.Hours > 0 {
		return req.Hours
	}
	if req.Window > 0 {
		return WindowHours(req.Window)
	}
	return 24
}
