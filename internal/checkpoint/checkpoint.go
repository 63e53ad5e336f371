// Package checkpoint periodically persists full schedule snapshots and
// rebuilds the schedule at startup from the latest snapshot plus the event
// journal written after it.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/cron"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

var ErrDuplicateCheckpoint = errors.New("checkpoint already exists")

// Checkpoint is a persisted copy of the whole schedule at a revision.
type Checkpoint struct {
	ID             uuid.UUID
	Revision       uint64
	IdempotencyKey string
	State          *schedule.State
	CreatedAt      time.Time
}

type Store interface {
	// InsertCheckpoint returns ErrDuplicateCheckpoint if the idempotency key
	// is already taken.
	InsertCheckpoint(ctx context.Context, cp Checkpoint) error
	LatestCheckpoint(ctx context.Context) (Checkpoint, bool, error)
}

// Journal is the event log written by the dispatcher.
type Journal interface {
	EventsSince(ctx context.Context, revision uint64, limit int) ([]domain.ScheduleEvent, error)
	// TruncateEventsAfter deletes every event above revision.
	TruncateEventsAfter(ctx context.Context, revision uint64) (int64, error)
}

// Source yields consistent snapshots of the live schedule.
type Source interface {
	Snapshot() *schedule.State
}

// Pruner drops journal events already covered by a checkpoint.
type Pruner interface {
	PruneEvents(ctx context.Context, throughRevision uint64) (int64, error)
}

// MetricsSink defines the interface for recording checkpoint metrics.
type MetricsSink interface {
	TickStarted()
	TickDrift(drift time.Duration)
	CheckpointCompleted(duration time.Duration, revision uint64, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Checkpointer struct {
	config   Config
	store    Store
	source   Source
	schedule cron.Schedule
	clock    func() time.Time
	metrics  MetricsSink
	pruner   Pruner // optional, nil = journal is kept in full

	lastTick     time.Time
	lastRevision uint64
}

func New(config Config, store Store, source Source, sched cron.Schedule) *Checkpointer {
	return &Checkpointer{
		config:   config,
		store:    store,
		source:   source,
		schedule: sched,
		clock:    time.Now,
	}
}

func (c *Checkpointer) WithClock(clock func() time.Time) *Checkpointer {
	c.clock = clock
	return c
}

func (c *Checkpointer) WithMetrics(sink MetricsSink) *Checkpointer {
	c.metrics = sink
	return c
}

func (c *Checkpointer) WithPruner(p Pruner) *Checkpointer {
	c.pruner = p
	return c
}

// MarkPersisted records a revision known to be durable already, typically the
// one restored at startup, so an unchanged schedule is not written again.
func (c *Checkpointer) MarkPersisted(revision uint64) {
	c.lastRevision = revision
}

func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	log.Printf("checkpoint: started, tick=%s", c.config.TickInterval)
	c.lastTick = c.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("checkpoint: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.processTick(ctx); err != nil {
				log.Printf("checkpoint: tick error: %v", err)
			}
		}
	}
}

func (c *Checkpointer) processTick(ctx context.Context) error {
	now := c.clock().UTC()
	if c.metrics != nil {
		c.metrics.TickStarted()
		if !c.lastTick.IsZero() {
			c.metrics.TickDrift(now.Sub(c.lastTick) - c.config.TickInterval)
		}
	}

	due, ok := cron.LatestDue(c.schedule, c.lastTick, now)
	c.lastTick = now
	if !ok {
		return nil
	}
	return c.write(ctx, due.UTC(), now)
}

// Flush writes a checkpoint immediately if the schedule changed since the
// last one. Used on shutdown.
func (c *Checkpointer) Flush(ctx context.Context) error {
	now := c.clock().UTC()
	return c.write(ctx, now, now)
}

func (c *Checkpointer) write(ctx context.Context, dueAt, now time.Time) (err error) {
	snap := c.source.Snapshot()
	if snap.Revision == c.lastRevision {
		return nil
	}

	started := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CheckpointCompleted(time.Since(started), snap.Revision, err)
		}
	}()

	cp := Checkpoint{
		ID:             uuid.New(),
		Revision:       snap.Revision,
		IdempotencyKey: idempotencyKey(snap.Revision, dueAt),
		State:          snap,
		CreatedAt:      now,
	}
	if err := c.store.InsertCheckpoint(ctx, cp); err != nil {
		if errors.Is(err, ErrDuplicateCheckpoint) {
			c.lastRevision = snap.Revision
			return nil
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	c.lastRevision = snap.Revision
	log.Printf("checkpoint: revision=%d written due_at=%s", snap.Revision, dueAt.Format(time.RFC3339))

	if c.pruner != nil {
		n, err := c.pruner.PruneEvents(ctx, snap.Revision)
		if err != nil {
			// The checkpoint is durable; stale journal rows are only skipped on replay.
			log.Printf("checkpoint: prune journal through revision=%d failed: %v", snap.Revision, err)
		} else if n > 0 {
			log.Printf("checkpoint: pruned %d journal events through revision=%d", n, snap.Revision)
		}
	}
	return nil
}

func idempotencyKey(revision uint64, dueAt time.Time) string {
	data := fmt.Sprintf("%d:%d", revision, dueAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// replayPage bounds how many journal events are loaded per query.
const replayPage = 500

// Recover rebuilds target from the latest checkpoint followed by every
// journal event recorded after it. It returns the restored revision.
//
// Replay stops at the first missing revision. Events above it are deleted and
// the recovered state is checkpointed before anything new is journaled, so
// new events never collide with the unreplayable ones.
func Recover(ctx context.Context, store Store, journal Journal, target *schedule.Store) (uint64, error) {
	st := schedule.NewState()

	cp, ok, err := store.LatestCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		st = cp.State.Clone()
		log.Printf("checkpoint: loaded revision=%d created_at=%s", cp.Revision, cp.CreatedAt.Format(time.RFC3339))
	}

	replayed := 0
	gap := false
replay:
	for {
		events, err := journal.EventsSince(ctx, st.Revision, replayPage)
		if err != nil {
			return 0, fmt.Errorf("load journal: %w", err)
		}
		for _, ev := range events {
			if ev.Revision != st.Revision+1 {
				// Later events depend on the missing one and cannot be applied.
				log.Printf("checkpoint: journal gap after revision=%d (next=%d), replay stopped", st.Revision, ev.Revision)
				gap = true
				break replay
			}
			if err := st.ApplyEvent(ev); err != nil {
				return 0, fmt.Errorf("replay: %w", err)
			}
			replayed++
		}
		if len(events) < replayPage {
			break
		}
	}

	if gap {
		if err := sealGap(ctx, store, journal, st); err != nil {
			return 0, err
		}
	}

	if err := target.Restore(st); err != nil {
		return 0, err
	}
	log.Printf("checkpoint: recovered revision=%d replayed=%d", st.Revision, replayed)
	return st.Revision, nil
}

func sealGap(ctx context.Context, store Store, journal Journal, st *schedule.State) error {
	n, err := journal.TruncateEventsAfter(ctx, st.Revision)
	if err != nil {
		return fmt.Errorf("truncate journal after revision %d: %w", st.Revision, err)
	}
	log.Printf("checkpoint: discarded %d journal events after revision=%d", n, st.Revision)

	now := time.Now().UTC()
	err = store.InsertCheckpoint(ctx, Checkpoint{
		ID:             uuid.New(),
		Revision:       st.Revision,
		IdempotencyKey: idempotencyKey(st.Revision, now),
		State:          st.Clone(),
		CreatedAt:      now,
	})
	if err != nil && !errors.Is(err, ErrDuplicateCheckpoint) {
		return fmt.Errorf("checkpoint recovered revision %d: %w", st.Revision, err)
	}
	return nil
}
