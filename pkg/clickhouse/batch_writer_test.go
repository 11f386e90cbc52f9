package clickhouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	agent string
	ms    int64
}

type sink struct {
	mu      sync.Mutex
	batches [][]row
}

func (s *sink) flush(_ context.Context, batch []row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *sink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(BatchWriterConfig[row]{
		FlushFunc:    s.flush,
		TableName:    "agent_executions",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, row{"socialIntelligence", 10}, row{"marketSentiment", 12}))
	assert.Equal(t, 2, bw.BufferSize())

	require.NoError(t, bw.Add(ctx, row{"competitorAnalysis", 9}))

	require.Len(t, s.batches, 1)
	assert.Len(t, s.batches[0], 3)
	assert.Equal(t, 0, bw.BufferSize())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(BatchWriterConfig[row]{
		FlushFunc:    s.flush,
		TableName:    "agent_executions",
		MaxBatchSize: 100,
		MaxAge:       50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, row{"a", 1}, row{"b", 2}))
	require.Eventually(t, func() bool { return s.total() == 2 }, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(BatchWriterConfig[row]{
		FlushFunc:    s.flush,
		TableName:    "agent_executions",
		MaxBatchSize: 100,
		MaxAge:       10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, row{"a", 1}, row{"b", 2}, row{"c", 3}))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))
	assert.Equal(t, 3, s.total())
}

func TestBatchWriter_StopWithoutStartFlushes(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(BatchWriterConfig[row]{FlushFunc: s.flush, TableName: "agent_executions"})

	require.NoError(t, bw.Add(context.Background(), row{"a", 1}))
	require.NoError(t, bw.Stop(context.Background()))
	assert.Equal(t, 1, s.total())
}

func TestBatchWriter_FlushErrorDropsBatch(t *testing.T) {
	bw := NewBatchWriter(BatchWriterConfig[row]{
		FlushFunc: func(context.Context, []row) error { return errors.New("clickhouse unavailable") },
		TableName: "agent_executions",
	})

	require.NoError(t, bw.Add(context.Background(), row{"a", 1}))
	assert.Error(t, bw.Flush(context.Background()))
	assert.Equal(t, 0, bw.BufferSize())
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(BatchWriterConfig[row]{
		FlushFunc:    s.flush,
		TableName:    "agent_executions",
		MaxBatchSize: 10,
		MaxAge:       time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(ms int64) {
			defer wg.Done()
			_ = bw.Add(ctx, row{"agent", ms})
		}(int64(i))
	}
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, bw.Stop(stopCtx))

	assert.Equal(t, 50, s.total())
}
