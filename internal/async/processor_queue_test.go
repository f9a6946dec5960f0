package async

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

type fakeRunner struct {
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, path string) pipeline.Result {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.Result{Kind: pipeline.KindFailed, Err: ctx.Err()}
		}
	}
	return pipeline.Result{Kind: pipeline.KindPersisted, InvoiceID: uuid.New()}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProcessorQueue_ProcessesAllJobsBeforeShutdown(t *testing.T) {
	runner := &fakeRunner{}
	var mu sync.Mutex
	seen := map[string]pipeline.Kind{}
	q := NewProcessorQueue(runner, discard(),
		WithWorkers(3), WithQueueSize(2),
		WithResultHandler(func(job Job, res pipeline.Result) {
			mu.Lock()
			seen[job.Path] = res.Kind
			mu.Unlock()
		}))

	paths := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf", "f.pdf"}
	for _, p := range paths {
		require.NoError(t, q.Enqueue(context.Background(), Job{Path: p, TraceID: "t-" + p}))
	}
	q.Shutdown(context.Background())

	assert.EqualValues(t, len(paths), runner.calls.Load())
	assert.Len(t, seen, len(paths))
	for _, p := range paths {
		assert.Equal(t, pipeline.KindPersisted, seen[p])
	}
}

func TestProcessorQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(&fakeRunner{}, discard())
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Path: "late.pdf"}), ErrClosed)
	// second shutdown is a no-op
	q.Shutdown(context.Background())
}

func TestProcessorQueue_BackpressureHonorsContext(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	q := NewProcessorQueue(runner, discard(), WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "1.pdf"}))
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "2.pdf"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Job{Path: "3.pdf"}), context.DeadlineExceeded)

	close(runner.block)
	q.Shutdown(context.Background())
	assert.EqualValues(t, 2, runner.calls.Load())
}

func TestProcessorQueue_ShutdownDeadlineCancelsInFlight(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	var kinds []pipeline.Kind
	var mu sync.Mutex
	q := NewProcessorQueue(runner, discard(), WithWorkers(1),
		WithResultHandler(func(_ Job, res pipeline.Result) {
			mu.Lock()
			kinds = append(kinds, res.Kind)
			mu.Unlock()
		}))
	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "slow.pdf"}))
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []pipeline.Kind{pipeline.KindFailed}, kinds)
}
