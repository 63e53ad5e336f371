// Package channel carries schedule events from the fleet service to the
// journal dispatcher over a buffered Go channel.
package channel

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/djlord-it/printfleet/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink is the subset of metrics.Sink the bus reports to.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

type EventBus struct {
	ch          chan domain.ScheduleEvent
	emitTimeout time.Duration
	metrics     MetricsSink

	closeOnce sync.Once
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.ScheduleEvent, buffer),
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

// Emit queues an event. It returns ErrBufferFull if no space frees up within
// the emit timeout, or the context error if ctx ends first.
func (b *EventBus) Emit(ctx context.Context, event domain.ScheduleEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.reportSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		log.Printf("eventbus: buffer full, dropping event type=%s revision=%d", event.Type, event.Revision)
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.ScheduleEvent {
	return b.ch
}

// Close stops delivery; consumers drain what is left. Emit must not be called
// after Close.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}

func (b *EventBus) reportSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}
