package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Publish after Stop.
var ErrQueueClosed = errors.New("notify queue closed")

const defaultQueueSize = 128

// Queue is the in-process transport: Publish buffers, a single worker drains
// into the notifier so broadcasts never run on the command path.
type Queue struct {
	ch       chan Outcome
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue feeding notifier.
func NewQueue(log *slog.Logger, notifier Notifier, size int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		ch:       make(chan Outcome, size),
		notifier: notifier,
		logger:   log.With(slog.String("component", "notify_queue")),
		timeout:  5 * time.Minute,
	}
}

// Publish enqueues outcome, waiting for room until ctx ends.
func (q *Queue) Publish(ctx context.Context, outcome Outcome) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- outcome:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.run(context.WithoutCancel(ctx))
	})
}

// Stop closes the queue and waits for queued outcomes to be delivered or ctx to end.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for outcome := range q.ch {
		q.deliver(ctx, outcome)
	}
}

func (q *Queue) deliver(ctx context.Context, outcome Outcome) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("notify panic", slog.String("kind", string(outcome.Kind)), slog.Any("panic", r))
		}
	}()
	if _, err := q.notifier.Notify(ctx, outcome); err != nil {
		q.logger.Error("notify failed",
			slog.String("tenant_id", outcome.TenantID),
			slog.String("kind", string(outcome.Kind)),
			slog.Any("error", err))
	}
}
