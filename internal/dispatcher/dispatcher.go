// Package dispatcher consumes schedule events from the event bus, appends them
// to the durable journal and forwards them to analytics.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/djlord-it/printfleet/internal/domain"
)

var defaultBackoff = []time.Duration{
	0,
	100 * time.Millisecond,
	1 * time.Second,
	5 * time.Second,
}

const maxAttempts = 4

// DefaultDrainTimeout is the maximum time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

var (
	// ErrDuplicateEvent is returned by a Journal when this same event is
	// already recorded. The dispatcher treats it as success.
	ErrDuplicateEvent = errors.New("event already journaled")

	// ErrRevisionConflict is returned by a Journal when a different event
	// already holds the revision. It is not retried.
	ErrRevisionConflict = errors.New("revision held by another event")
)

type Journal interface {
	AppendEvent(ctx context.Context, event domain.ScheduleEvent) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, event domain.ScheduleEvent)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JournalAppendCompleted(attempt int, duration time.Duration, err error)
	JournalOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

type Dispatcher struct {
	journal      Journal       // optional, nil = events are not persisted
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
}

func New(journal Journal) *Dispatcher {
	return &Dispatcher{
		journal:      journal,
		backoff:      defaultBackoff,
		drainTimeout: DefaultDrainTimeout,
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithBackoff(backoff []time.Duration) *Dispatcher {
	if len(backoff) > 0 {
		d.backoff = backoff
	}
	return d
}

func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Run processes events from the channel until context is cancelled or the
// channel is closed. After cancellation, it drains remaining buffered events
// with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.ScheduleEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				log.Println("dispatcher: channel closed")
				return
			}
			if err := d.Dispatch(ctx, event); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// drain processes remaining events in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.ScheduleEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("dispatcher: drain timeout, processed %d events", count)
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d events", count)
				return
			}
			if err := d.Dispatch(drainCtx, event); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Dispatch journals one event, retrying transient failures with backoff.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.ScheduleEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	// Analytics is best-effort and independent of the journal outcome.
	if d.analytics != nil {
		d.analytics.Record(ctx, event)
	}

	if d.journal == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(true)
			}
			if err := d.wait(ctx, attempt); err != nil {
				d.outcome("abandoned")
				return fmt.Errorf("revision %d: %w", event.Revision, err)
			}
		}

		started := time.Now()
		err := d.journal.AppendEvent(ctx, event)
		if d.metrics != nil {
			d.metrics.JournalAppendCompleted(attempt, time.Since(started), err)
		}

		if err == nil || errors.Is(err, ErrDuplicateEvent) {
			d.outcome("success")
			return nil
		}
		if errors.Is(err, ErrRevisionConflict) {
			d.outcome("conflict")
			return fmt.Errorf("revision %d type=%s id=%s: %w", event.Revision, event.Type, event.ID, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.outcome("abandoned")
			return fmt.Errorf("revision %d: %w", event.Revision, err)
		}

		lastErr = err
		log.Printf("dispatcher: revision=%d type=%s attempt=%d failed: %v", event.Revision, event.Type, attempt, err)
	}

	d.outcome("failed")
	return fmt.Errorf("revision %d: journal append failed after %d attempts: %w", event.Revision, maxAttempts, lastErr)
}

func (d *Dispatcher) wait(ctx context.Context, attempt int) error {
	idx := attempt - 1
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	backoff := d.backoff[idx]

	timer := time.NewTimer(backoff)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) outcome(outcome string) {
	if d.metrics != nil {
		d.metrics.JournalOutcome(outcome)
	}
}
