package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/observability/metrics"
	"github.com/sambigeara/messagecat/pkg/queue"
)

const DefaultTick = time.Second

// Worker is a pool slot that can be handed one item at a time.
type Worker[T any] interface {
	Idle() bool
	Assign(item T) bool
}

// Manager moves queued items to idle workers on a fixed tick.
type Manager[T any] struct {
	queue   *queue.Queue[T]
	onDrop  func(T)
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	workers []Worker[T]
	tick    time.Duration
}

type Option[T any] func(*Manager[T])

// WithDrop is called for an item that could not be returned to the queue
// because it was locked for shutdown.
func WithDrop[T any](fn func(T)) Option[T] {
	return func(m *Manager[T]) { m.onDrop = fn }
}

func WithMetrics[T any](mt *metrics.Metrics) Option[T] {
	return func(m *Manager[T]) { m.metrics = mt }
}

func NewManager[T any](q *queue.Queue[T], workers []Worker[T], tick time.Duration, opts ...Option[T]) *Manager[T] {
	if tick <= 0 {
		tick = DefaultTick
	}
	m := &Manager[T]{
		queue:   q,
		workers: workers,
		tick:    tick,
		log:     zap.S().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager[T]) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		m.Step()
		m.metrics.SetQueueDepth(m.queue.Len())
		t.Reset(m.tick)
	}
}

// Step pops one item and gives it to the lowest-indexed idle worker. With no
// idle worker the item goes back on the tail of the queue. It reports whether
// an item was assigned.
func (m *Manager[T]) Step() bool {
	item, ok := m.queue.Pop()
	if !ok {
		return false
	}

	for i, w := range m.workers {
		if !w.Idle() {
			continue
		}
		if w.Assign(item) {
			m.log.Debugw("assigned work", "worker", i)
			return true
		}
	}

	if err := m.queue.Requeue(item); err != nil {
		m.log.Warnw("requeue failed, dropping work", "err", err)
		if m.onDrop != nil {
			m.onDrop(item)
		}
	}
	return false
}
