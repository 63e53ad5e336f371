package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
)

func committedEvent(rev uint64, machineID string) domain.ScheduleEvent {
	return domain.ScheduleEvent{
		ID:         uuid.New(),
		Type:       domain.EventJobCommitted,
		Revision:   rev,
		OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		JobID:      uuid.New(),
		MachineID:  machineID,
	}
}

type busMetrics struct {
	mu          sync.Mutex
	capacity    []int
	sizes       []int
	saturations []float64
	emitErrors  int
}

func (m *busMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *busMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = append(m.capacity, capacity)
}

func (m *busMetrics) BufferSaturationUpdate(saturation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saturations = append(m.saturations, saturation)
}

func (m *busMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func TestEventBus_DeliversInEmitOrder(t *testing.T) {
	bus := NewEventBus(8)
	ctx := context.Background()

	for rev := uint64(1); rev <= 5; rev++ {
		if err := bus.Emit(ctx, committedEvent(rev, "fdm-1")); err != nil {
			t.Fatalf("Emit rev=%d: %v", rev, err)
		}
	}
	bus.Close()

	var got []uint64
	for ev := range bus.Channel() {
		got = append(got, ev.Revision)
	}
	if len(got) != 5 {
		t.Fatalf("received %d events, want 5", len(got))
	}
	for i, rev := range got {
		if rev != uint64(i+1) {
			t.Errorf("event %d has revision %d, want %d", i, rev, i+1)
		}
	}
}

func TestEventBus_EmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() context.Context
		timeout time.Duration
		wantErr error
	}{
		{
			name:    "buffer stays full past the emit timeout",
			ctx:     context.Background,
			timeout: 20 * time.Millisecond,
			wantErr: ErrBufferFull,
		},
		{
			name: "caller context already cancelled",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			timeout: time.Minute,
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus(1, WithEmitTimeout(tt.timeout))
			if err := bus.Emit(context.Background(), committedEvent(1, "fdm-1")); err != nil {
				t.Fatalf("filling emit: %v", err)
			}

			err := bus.Emit(tt.ctx(), committedEvent(2, "fdm-1"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Emit error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventBus_EmitTimeoutOption(t *testing.T) {
	if bus := NewEventBus(2); bus.emitTimeout != DefaultEmitTimeout {
		t.Errorf("default emit timeout = %v, want %v", bus.emitTimeout, DefaultEmitTimeout)
	}
	if bus := NewEventBus(2, WithEmitTimeout(time.Second)); bus.emitTimeout != time.Second {
		t.Errorf("emit timeout = %v, want 1s", bus.emitTimeout)
	}
}

func TestEventBus_ReportsBufferUsage(t *testing.T) {
	m := &busMetrics{}
	bus := NewEventBus(4, WithMetrics(m))
	ctx := context.Background()

	for rev := uint64(1); rev <= 2; rev++ {
		if err := bus.Emit(ctx, committedEvent(rev, "sla-1")); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.capacity) != 1 || m.capacity[0] != 4 {
		t.Errorf("capacity reports = %v, want [4]", m.capacity)
	}
	if len(m.sizes) != 2 || m.sizes[1] != 2 {
		t.Errorf("size reports = %v, want [1 2]", m.sizes)
	}
	if len(m.saturations) != 2 || m.saturations[1] != 0.5 {
		t.Errorf("saturation reports = %v, want [0.25 0.5]", m.saturations)
	}
}

func TestEventBus_CountsDroppedEvents(t *testing.T) {
	m := &busMetrics{}
	bus := NewEventBus(1, WithEmitTimeout(10*time.Millisecond), WithMetrics(m))
	ctx := context.Background()

	_ = bus.Emit(ctx, committedEvent(1, "fdm-1"))
	_ = bus.Emit(ctx, committedEvent(2, "fdm-1"))
	_ = bus.Emit(ctx, committedEvent(3, "fdm-1"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErrors != 2 {
		t.Errorf("emit errors = %d, want 2", m.emitErrors)
	}
}

func TestEventBus_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 50
	bus := NewEventBus(producers * perProducer)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := bus.Emit(ctx, committedEvent(uint64(p*perProducer+i+1), "fdm-1")); err != nil {
					errs <- err
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	bus.Close()

	for err := range errs {
		t.Errorf("Emit: %v", err)
	}

	seen := make(map[uint64]bool)
	for ev := range bus.Channel() {
		if seen[ev.Revision] {
			t.Errorf("revision %d delivered twice", ev.Revision)
		}
		seen[ev.Revision] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("received %d distinct events, want %d", len(seen), producers*perProducer)
	}
}

func TestEventBus_CloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(2)
	if err := bus.Emit(context.Background(), committedEvent(1, "fdm-1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	bus.Close()
	bus.Close()

	ev, ok := <-bus.Channel()
	if !ok || ev.Revision != 1 {
		t.Fatalf("expected buffered event after close, got ok=%v rev=%d", ok, ev.Revision)
	}
	if _, ok := <-bus.Channel(); ok {
		t.Error("channel should be closed once drained")
	}
}
