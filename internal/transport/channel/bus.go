// Package channel is the in-process intake queue between the HTTP layer and
// the dispatcher in async mode.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/formrelay/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

var (
	ErrBufferFull = errors.New("intake buffer full")
	ErrBusClosed  = errors.New("intake bus closed")
)

// MetricsSink receives buffer gauges. All methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*SubmissionBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *SubmissionBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *SubmissionBus) {
		b.metrics = m
	}
}

// SubmissionBus buffers accepted submissions. Nothing survives a restart.
type SubmissionBus struct {
	mu          sync.RWMutex
	closed      bool
	ch          chan domain.Submission
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewSubmissionBus(buffer int, opts ...Option) *SubmissionBus {
	b := &SubmissionBus{
		ch:          make(chan domain.Submission, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues sub, waiting at most the emit timeout for buffer space.
func (b *SubmissionBus) Emit(ctx context.Context, sub domain.Submission) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- sub:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel is consumed by the dispatcher.
func (b *SubmissionBus) Channel() <-chan domain.Submission {
	return b.ch
}

func (b *SubmissionBus) Len() int {
	return len(b.ch)
}

// Close stops intake. Buffered submissions stay readable until drained.
func (b *SubmissionBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
