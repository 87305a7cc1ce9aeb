package queue_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/labguard/labguard-api/internal/queue"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []uint
	panicOn   uint
	release   chan struct{}
}

func (p *recordingProcessor) Process(_ context.Context, id uint) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	p.processed = append(p.processed, id)
	p.mu.Unlock()
	if p.panicOn != 0 && id == p.panicOn {
		panic("detector blew up")
	}
	return nil
}

func (p *recordingProcessor) snapshot() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint(nil), p.processed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestQueueEnqueueDeduplicates(t *testing.T) {
	q := queue.New(&recordingProcessor{}, queue.Options{}, zerolog.New(io.Discard))

	require.True(t, q.Enqueue(7))
	require.False(t, q.Enqueue(7))
	require.True(t, q.Enqueue(8))
	require.Equal(t, 2, q.Status().PendingCount)
}

func TestQueueProcessesInOrder(t *testing.T) {
	proc := &recordingProcessor{}
	q := queue.New(proc, queue.Options{}, zerolog.New(io.Discard))

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(proc.snapshot()) == 3 })
	require.Equal(t, []uint{1, 2, 3}, proc.snapshot())
	require.Equal(t, 0, q.Status().PendingCount)
}

func TestQueueReenqueueAfterProcessing(t *testing.T) {
	proc := &recordingProcessor{}
	q := queue.New(proc, queue.Options{}, zerolog.New(io.Discard))

	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(5)
	waitFor(t, func() bool { return len(proc.snapshot()) == 1 })

	// Same id is acceptable again once it left the queue.
	require.True(t, q.Enqueue(5))
	waitFor(t, func() bool { return len(proc.snapshot()) == 2 })
}

func TestQueueSurvivesPanic(t *testing.T) {
	proc := &recordingProcessor{panicOn: 2}
	q := queue.New(proc, queue.Options{}, zerolog.New(io.Discard))

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(proc.snapshot()) == 3 })
	require.Equal(t, []uint{1, 2, 3}, proc.snapshot())
}

func TestQueueRecoveryScanEnqueues(t *testing.T) {
	proc := &recordingProcessor{}
	recovery := func(context.Context) ([]uint, error) { return []uint{11, 12}, nil }
	q := queue.New(proc, queue.Options{Recovery: recovery}, zerolog.New(io.Discard))

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(proc.snapshot()) == 2 })
	require.ElementsMatch(t, []uint{11, 12}, proc.snapshot())
}

func TestQueueStatusWhileProcessing(t *testing.T) {
	proc := &recordingProcessor{release: make(chan struct{})}
	q := queue.New(proc, queue.Options{}, zerolog.New(io.Discard))

	q.Enqueue(1)
	q.Enqueue(2)
	q.Start(context.Background())

	waitFor(t, func() bool { return q.Status().IsProcessing })
	require.Equal(t, 1, q.Status().PendingCount)

	close(proc.release)
	waitFor(t, func() bool { return len(proc.snapshot()) == 2 })
	q.Stop()
	require.False(t, q.Status().IsProcessing)
}

func TestQueueStartTwiceIsNoop(t *testing.T) {
	proc := &recordingProcessor{}
	q := queue.New(proc, queue.Options{}, zerolog.New(io.Discard))

	ctx := context.Background()
	q.Start(ctx)
	q.Start(ctx)
	q.Enqueue(1)

	waitFor(t, func() bool { return len(proc.snapshot()) == 1 })
	q.Stop()
	require.Equal(t, []uint{1}, proc.snapshot())
}
