package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/autolumiku/wabot/internal/metrics"
)

var (
	// ErrQueueFull is returned when the inbound queue cannot take more work.
	ErrQueueFull = errors.New("inbound queue full")
	// ErrManagerStopped is returned by Enqueue after Shutdown.
	ErrManagerStopped = errors.New("channel manager stopped")
)

const (
	defaultInboundWorkers = 8
	defaultInboundQueue   = 256
	defaultTaskTimeout    = 2 * time.Minute
)

// ManagerConfig sizes the inbound worker pool.
type ManagerConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type inboundTask struct {
	msg      IncomingMessage
	queuedAt time.Time
}

// Manager accepts webhook deliveries into a bounded queue and drains it with a
// fixed pool of stateless workers. Ordering within a conversation is enforced by
// the processor's per-conversation lock, not by the queue.
type Manager struct {
	processor   Processor
	logger      *slog.Logger
	workers     int
	taskTimeout time.Duration

	inboundQueue  chan inboundTask
	inboundOnce   sync.Once
	inboundCtx    context.Context
	inboundCancel context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.RWMutex
	stopped       bool
}

// NewManager creates a Manager around processor.
func NewManager(log *slog.Logger, processor Processor, cfg ManagerConfig) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultInboundWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultInboundQueue
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	return &Manager{
		processor:    processor,
		logger:       log.With(slog.String("component", "channel")),
		workers:      cfg.Workers,
		taskTimeout:  cfg.TaskTimeout,
		inboundQueue: make(chan inboundTask, cfg.QueueSize),
	}
}

// Start launches the worker pool. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.inboundOnce.Do(func() {
		m.inboundCtx, m.inboundCancel = context.WithCancel(ctx)
		m.logger.Info("manager start", slog.Int("workers", m.workers), slog.Int("queue_size", cap(m.inboundQueue)))
		for i := 0; i < m.workers; i++ {
			m.wg.Add(1)
			go m.runWorker(i + 1)
		}
	})
}

// Enqueue hands msg to the worker pool without blocking.
func (m *Manager) Enqueue(msg IncomingMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return ErrManagerStopped
	}
	select {
	case m.inboundQueue <- inboundTask{msg: msg, queuedAt: time.Now()}:
		metrics.QueueDepth.Set(float64(len(m.inboundQueue)))
		return nil
	default:
		m.logger.Warn("inbound queue full", slog.String("account_id", msg.AccountID), slog.String("message_id", msg.MessageID))
		return ErrQueueFull
	}
}

// Process runs msg synchronously on the caller's goroutine.
func (m *Manager) Process(ctx context.Context, msg IncomingMessage) (ProcessResult, error) {
	return m.processor.ProcessIncomingMessage(ctx, msg)
}

// QueueDepth reports how many messages are waiting.
func (m *Manager) QueueDepth() int {
	return len(m.inboundQueue)
}

// Shutdown stops accepting work, lets workers drain what is queued and waits
// for them until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.inboundQueue)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("manager stop")
	case <-ctx.Done():
		m.logger.Warn("manager shutdown timed out", slog.Int("pending", len(m.inboundQueue)))
	}
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	return nil
}

func (m *Manager) runWorker(id int) {
	defer m.wg.Done()
	for task := range m.inboundQueue {
		metrics.QueueDepth.Set(float64(len(m.inboundQueue)))
		m.handle(id, task)
	}
}

func (m *Manager) handle(worker int, task inboundTask) {
	ctx, cancel := context.WithTimeout(m.inboundCtx, m.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound worker panic",
				slog.Int("worker", worker),
				slog.String("message_id", task.msg.MessageID),
				slog.Any("panic", r))
		}
	}()
	result, err := m.processor.ProcessIncomingMessage(ctx, task.msg)
	if err != nil {
		m.logger.Error("inbound processing failed",
			slog.Int("worker", worker),
			slog.String("account_id", task.msg.AccountID),
			slog.String("message_id", task.msg.MessageID),
			slog.Any("error", err))
		return
	}
	m.logger.Debug("inbound processed",
		slog.Int("worker", worker),
		slog.String("conversation_id", result.ConversationID),
		slog.String("intent", result.Intent),
		slog.Bool("duplicate", result.Duplicate),
		slog.Duration("queued_for", time.Since(task.queuedAt)))
}
