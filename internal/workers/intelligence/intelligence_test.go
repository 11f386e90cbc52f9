package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/cache"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
)

type fakeWorkflows struct {
	params []workflow.Params
	report schemas.CompiledReport
	err    error
}

func (f *fakeWorkflows) RunWorkflow(_ context.Context, p workflow.Params) (schemas.CompiledReport, error) {
	f.params = append(f.params, p)
	return f.report, f.err
}

func (f *fakeWorkflows) Defaults(p workflow.Params) workflow.Params {
	if p.Query == "" {
		p.Query = "mobile money"
	}
	if p.Window == 0 {
		p.Window = 24 * time.Hour
	}
	return p
}

func TestWorkflowRunner_RefreshesCachedReport(t *testing.T) {
	wf := &fakeWorkflows{report: schemas.CompiledReport{RunID: "run-9", OverallHealth: 6.5}}
	reports := cache.New[schemas.CompiledReport](cache.Options{Namespace: "report"}, nil)
	w := NewWorkflowRunner(wf, reports, time.Hour, workflow.Params{}, time.Hour, true)

	require.NoError(t, w.Run(context.Background()))
	require.Len(t, wf.params, 1)
	assert.Equal(t, "mobile money", wf.params[0].Query)

	key := workflow.ReportKey("mobile money", 24*time.Hour)
	res, err := reports.GetOrCompute(context.Background(), key, time.Hour, func(context.Context) (schemas.CompiledReport, error) {
		t.Fatal("report should already be cached")
		return schemas.CompiledReport{}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.IsCacheHit)
	assert.Equal(t, "run-9", res.Value.RunID)
}

func TestWorkflowRunner_FailedRunLeavesCacheAlone(t *testing.T) {
	wf := &fakeWorkflows{err: errors.Wrap(errors.ErrConnectivity, "posts store")}
	reports := cache.New[schemas.CompiledReport](cache.Options{Namespace: "report"}, nil)
	w := NewWorkflowRunner(wf, reports, time.Hour, workflow.Params{Query: "airtel money"}, time.Hour, true)

	err := w.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrConnectivity))
	assert.Zero(t, reports.Len())
	assert.Equal(t, "airtel money", wf.params[0].Query)
}

func TestWorkflowRunner_WithoutReportCache(t *testing.T) {
	wf := &fakeWorkflows{report: schemas.CompiledReport{RunID: "run-1"}}
	w := NewWorkflowRunner(wf, nil, time.Hour, workflow.Params{}, time.Hour, true)
	assert.NoError(t, w.Run(context.Background()))
	assert.Equal(t, "workflow_runner", w.Name())
}

type fakePurger struct{ removed, live int }

func (p *fakePurger) Purge() int { return p.removed }
func (p *fakePurger) Len() int   { return p.live }

type fakeKeys struct {
	keys []string
	err  error
	seen string
}

func (k *fakeKeys) Keys(_ context.Context, pattern string) ([]string, error) {
	k.seen = pattern
	return k.keys, k.err
}

func TestCacheJanitor_SweepsEveryLayer(t *testing.T) {
	a := &fakePurger{removed: 2, live: 3}
	b := &fakePurger{removed: 1}
	store := &fakeKeys{keys: []string{"report:x", "agent:y"}}
	j := NewCacheJanitor([]Purger{a, b}, store, time.Minute, true)

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, "*", store.seen)
}

func TestCacheJanitor_StoreDownIsNotFatal(t *testing.T) {
	store := &fakeKeys{err: errors.NewConnectivityError("redis", "scan", errors.New("refused"))}
	j := NewCacheJanitor([]Purger{&fakePurger{}}, store, time.Minute, true)
	assert.NoError(t, j.Run(context.Background()))
}

func TestCacheJanitor_PurgesRealLayer(t *testing.T) {
	layer := cache.New[string](cache.Options{Namespace: "t"}, nil)
	_, err := layer.GetOrCompute(context.Background(), "k", time.Millisecond, func(context.Context) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	j := NewCacheJanitor([]Purger{layer}, nil, time.Minute, true)
	require.NoError(t, j.Run(context.Background()))
	assert.Zero(t, layer.Len())
}
