package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/observability"
)

// Processor handles one queued submission.
type Processor interface {
	Process(ctx context.Context, submissionID uint) error
}

// RecoveryFunc lists submission ids whose validation is still pending and
// should be re-enqueued on startup.
type RecoveryFunc func(ctx context.Context) ([]uint, error)

// Options configures the validation queue.
type Options struct {
	InterItemDelay time.Duration
	Recovery       RecoveryFunc
}

// Status is the observable queue state.
type Status struct {
	PendingCount int  `json:"pending_count"`
	IsProcessing bool `json:"is_processing"`
}

// ValidationQueue is a FIFO single-worker queue of submission identifiers
// with at-most-once processing per generation. Enqueue deduplicates ids that
// are already pending. The queue is an owned object with an explicit
// Start/Stop lifecycle.
type ValidationQueue struct {
	processor Processor
	opts      Options
	logger    zerolog.Logger

	mu         sync.Mutex
	pending    []uint
	queued     map[uint]struct{}
	processing bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a stopped queue.
func New(processor Processor, opts Options, logger zerolog.Logger) *ValidationQueue {
	if opts.InterItemDelay < 0 {
		opts.InterItemDelay = 0
	}

	return &ValidationQueue{
		processor: processor,
		opts:      opts,
		logger:    logger.With().Str("component", "validation_queue").Logger(),
		queued:    make(map[uint]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue adds a submission id unless it is already pending. Returns whether
// the id was added.
func (q *ValidationQueue) Enqueue(submissionID uint) bool {
	q.mu.Lock()
	if _, exists := q.queued[submissionID]; exists {
		q.mu.Unlock()
		return false
	}
	q.queued[submissionID] = struct{}{}
	q.pending = append(q.pending, submissionID)
	depth := len(q.pending)
	q.mu.Unlock()

	observability.QueueDepth().Set(float64(depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Status reports the pending count and whether an item is being processed.
func (q *ValidationQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{PendingCount: len(q.pending), IsProcessing: q.processing}
}

// Start launches the worker goroutine and runs the startup recovery scan.
// Calling Start on a running queue is a no-op.
func (q *ValidationQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	if q.opts.Recovery != nil {
		go q.recover(workerCtx)
	}

	go q.run(workerCtx)
}

// Stop cancels the worker and waits for the in-flight item to finish.
func (q *ValidationQueue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	done := q.done
	q.cancel = nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *ValidationQueue) recover(ctx context.Context) {
	ids, err := q.opts.Recovery(ctx)
	if err != nil {
		q.logger.Error().Err(err).Msg("startup recovery scan failed")
		return
	}

	for _, id := range ids {
		q.Enqueue(id)
	}
	if len(ids) > 0 {
		q.logger.Info().Int("count", len(ids)).Msg("re-enqueued pending validations")
	}
}

func (q *ValidationQueue) run(ctx context.Context) {
	defer close(q.done)

	for {
		id, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.processOne(ctx, id)

		if q.opts.InterItemDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.InterItemDelay):
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (q *ValidationQueue) pop() (uint, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return 0, false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, id)
	q.processing = true

	observability.QueueDepth().Set(float64(len(q.pending)))
	return id, true
}

// processOne contains worker failures: a panicking or erroring item is
// dropped from this generation and left to the recovery scan.
func (q *ValidationQueue) processOne(ctx context.Context, id uint) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Uint("submission_id", id).Msg("validation worker panicked")
			observability.QueueProcessed().WithLabelValues("panic").Inc()
		}
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	if err := q.processor.Process(ctx, id); err != nil {
		q.logger.Error().Err(err).Uint("submission_id", id).Msg("validation processing failed")
		observability.QueueProcessed().WithLabelValues("error").Inc()
		return
	}
	observability.QueueProcessed().WithLabelValues("ok").Inc()
}
