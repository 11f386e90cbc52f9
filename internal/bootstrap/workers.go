package bootstrap

import (
	"fintelli/internal/workers"
	"fintelli/internal/workers/intelligence"
	"fintelli/internal/workflow"
)

// provideScheduler registers the background workers
func (c *Container) provideScheduler() *workers.Scheduler {
	c.Log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(c.Log, 0)
	cfg := c.Config.Workers

	runner := intelligence.NewWorkflowRunner(
		c.Business.Orchestrator,
		c.Business.Reports,
		c.Config.Cache.ReportTTL,
		workflow.Params{
			Query:       c.Config.Workflow.DefaultQuery,
			Window:      c.Config.Workflow.DefaultWindow,
			Competitors: c.Config.Market.Competitors,
		},
		cfg.WorkflowInterval,
		cfg.WorkflowEnabled,
	)

	var store intelligence.KeyCounter
	if c.Repos.CacheStore != nil {
		store = c.Repos.CacheStore
	}
	janitor := intelligence.NewCacheJanitor(
		[]intelligence.Purger{c.Business.Agents, c.Business.Reports},
		store,
		cfg.JanitorInterval,
		true,
	)

	for _, w := range []workers.Worker{runner, janitor} {
		if err := scheduler.Register(w); err != nil {
			c.Log.Fatalf("failed to register worker %s: %v", w.Name(), err)
		}
	}

	c.Log.Infow("✓ Workers initialized",
		"workflow_runner", cfg.WorkflowEnabled,
		"workflow_interval", cfg.WorkflowInterval,
		"janitor_interval", cfg.JanitorInterval,
	)
	return scheduler
}
