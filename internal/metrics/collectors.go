package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"fintelli/pkg/logger"
)

// StoreCollector reports pipeline backlog and history sizes straight from PostgreSQL
type StoreCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	posts        *prometheus.Desc
	insights     *prometheus.Desc
	workflowRuns *prometheus.Desc
}

// NewStoreCollector creates a new store collector
func NewStoreCollector(log *logger.Logger, postgres *sqlx.DB) *StoreCollector {
	return &StoreCollector{
		log:      log,
		postgres: postgres,

		posts: prometheus.NewDesc(
			"fintelli_posts",
			"Number of stored posts by processing state",
			[]string{"state"}, // state: processed|pending
			nil,
		),
		insights: prometheus.NewDesc(
			"fintelli_insights_24h",
			"Insights persisted in the last 24h by type",
			[]string{"type"},
			nil,
		),
		workflowRuns: prometheus.NewDesc(
			"fintelli_workflow_runs_24h",
			"Workflow runs finished in the last 24h by state",
			[]string{"state"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.posts
	ch <- c.insights
	ch <- c.workflowRuns
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectGrouped(ctx, ch, c.posts, `
		SELECT CASE WHEN processed THEN 'processed' ELSE 'pending' END AS label, COUNT(*) AS count
		FROM posts
		GROUP BY 1
	`)
	c.collectGrouped(ctx, ch, c.insights, `
		SELECT type AS label, COUNT(*) AS count
		FROM insights
		WHERE created_at > NOW() - INTERVAL '24 hours'
		GROUP BY type
	`)
	c.collectGrouped(ctx, ch, c.workflowRuns, `
		SELECT state AS label, COUNT(*) AS count
		FROM workflow_runs
		WHERE finished_at > NOW() - INTERVAL '24 hours'
		GROUP BY state
	`)
}

func (c *StoreCollector) collectGrouped(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	type row struct {
		Label string `db:"label"`
		Count int    `db:"count"`
	}

	var rows []row
	if err := c.postgres.SelectContext(ctx, &rows, query); err != nil {
		c.log.Warnw("Failed to collect store metric", "metric", desc.String(), "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(r.Count), r.Label)
	}
}

// RegisterStoreCollector registers the store collector
func RegisterStoreCollector(collector *StoreCollector) {
	prometheus.MustRegister(collector)
}
