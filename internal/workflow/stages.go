package workflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
	"fintelli/pkg/errors"
)

// ingest loads one batch of unprocessed posts, retrying transient store errors
func (o *Orchestrator) ingest(ctx context.Context, window post.Window) ([]post.Post, error) {
	if o.deps.Posts == nil {
		return []post.Post{}, nil
	}

	var raw []post.Post
	err := o.deps.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = o.deps.Posts.ListUnprocessed(ctx, window, o.cfg.BatchSize)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list unprocessed posts")
	}
	return raw, nil
}

// process tags the batch, indexes relevant posts, marks the whole batch
// processed and returns every processed post in the window for analysis
// together with the number of relevant posts in this batch
func (o *Orchestrator) process(ctx context.Context, raw []post.Post, window post.Window) ([]post.Post, int, error) {
	res := o.deps.Processor.Process(raw)

	if o.deps.Indexer != nil && len(res.Relevant) > 0 {
		n, err := o.deps.Indexer.IndexPosts(ctx, res.Relevant)
		if err != nil {
			o.log.Warnw("Indexing posts failed, evidence will be thin", "indexed", n, "error", err)
		}
	}

	if o.deps.Posts == nil {
		return res.Relevant, len(res.Relevant), nil
	}

	batch := make([]post.Post, 0, len(res.Relevant)+len(res.Irrelevant))
	batch = append(batch, res.Relevant...)
	batch = append(batch, res.Irrelevant...)
	for i := range batch {
		p := &batch[i]
		err := o.deps.Retry.Do(ctx, func(ctx context.Context) error {
			return o.deps.Posts.MarkProcessed(ctx, p)
		})
		if err != nil {
			return nil, 0, errors.Wrapf(err, "mark post %s processed", p.ID)
		}
	}

	var posts []post.Post
	err := o.deps.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		posts, err = o.deps.Posts.ListProcessed(ctx, window, o.cfg.BatchSize*10)
		return err
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list processed posts")
	}
	if posts == nil {
		posts = []post.Post{}
	}
	return posts, len(res.Relevant), nil
}

// analyze runs every registered agent on a bounded pool, each under its
// own deadline. An agent past its deadline yields a failed result and
// leaves the others untouched.
func (o *Orchestrator) analyze(ctx context.Context, p Params, posts []post.Post) map[string]agents.Outcome {
	req := agents.Request{
		Query:       p.Query,
		Hours:       agents.WindowHours(p.Window),
		Competitors: p.Competitors,
		Window:      p.Window,
		Posts:       posts,
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[string]agents.Outcome, len(schemas.AgentNames))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrency)

	for _, name := range o.deps.Agents.List() {
		ag, ok := o.deps.Agents.Get(name)
		if !ok {
			continue
		}
		timeout := o.timeout(name)

		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			out := ag.Run(actx, req)

			mu.Lock()
			outcomes[name] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (o *Orchestrator) timeout(agentName string) time.Duration {
	var d time.Duration
	switch agentName {
	case schemas.AgentSocialIntelligence:
		d = o.cfg.SocialTimeout
	case schemas.AgentMarketSentiment:
		d = o.cfg.MarketTimeout
	case schemas.AgentCompetitorAnalysis:
		d = o.cfg.CompetitorTimeout
	}
	if d <= 0 {
		d = 45 * time.Second
	}
	return d
}
