package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/printfleet/internal/checkpoint"
	"github.com/djlord-it/printfleet/internal/dispatcher"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Store implements dispatcher.Journal, checkpoint.Store and checkpoint.Journal
// using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration // 0 = caller's deadline only
}

var (
	_ dispatcher.Journal = (*Store)(nil)
	_ checkpoint.Store   = (*Store)(nil)
	_ checkpoint.Journal = (*Store)(nil)
	_ checkpoint.Pruner  = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every query issued by the store.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates the journal and checkpoint tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaStatements); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// AppendEvent writes one event to the journal.
// Returns dispatcher.ErrDuplicateEvent if this event is already recorded and
// dispatcher.ErrRevisionConflict if another event holds its revision.
func (s *Store) AppendEvent(ctx context.Context, ev domain.ScheduleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var jobID uuid.NullUUID
	if ev.JobID != uuid.Nil {
		jobID = uuid.NullUUID{UUID: ev.JobID, Valid: true}
	}
	var machineID sql.NullString
	if ev.MachineID != "" {
		machineID = sql.NullString{String: ev.MachineID, Valid: true}
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, queryInsertEvent,
		ev.ID,
		int64(ev.Revision),
		string(ev.Type),
		jobID,
		machineID,
		ev.OccurredAt,
		payload,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return s.classifyDuplicate(ctx, ev)
		}
		return err
	}
	return nil
}

func (s *Store) classifyDuplicate(ctx context.Context, ev domain.ScheduleEvent) error {
	var holder uuid.UUID
	err := s.db.QueryRowContext(ctx, queryEventIDAtRevision, int64(ev.Revision)).Scan(&holder)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// the event ID is recorded under another revision
		return dispatcher.ErrDuplicateEvent
	case err != nil:
		return fmt.Errorf("look up revision %d: %w", ev.Revision, err)
	case holder == ev.ID:
		return dispatcher.ErrDuplicateEvent
	default:
		return fmt.Errorf("%w: revision %d held by %s", dispatcher.ErrRevisionConflict, ev.Revision, holder)
	}
}

// EventsSince returns up to limit events with a revision above revision, in
// revision order.
func (s *Store) EventsSince(ctx context.Context, revision uint64, limit int) ([]domain.ScheduleEvent, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryEventsSince, int64(revision), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ScheduleEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.ScheduleEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// PruneEvents deletes journal entries already covered by a checkpoint.
func (s *Store) PruneEvents(ctx context.Context, throughRevision uint64) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryPruneEvents, int64(throughRevision))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TruncateEventsAfter deletes journal entries above revision, the ones a
// recovery could not replay.
func (s *Store) TruncateEventsAfter(ctx context.Context, revision uint64) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryTruncateEventsAfter, int64(revision))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertCheckpoint stores a schedule snapshot.
// Returns checkpoint.ErrDuplicateCheckpoint if the idempotency key already exists.
func (s *Store) InsertCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, queryInsertCheckpoint,
		cp.ID,
		int64(cp.Revision),
		cp.IdempotencyKey,
		state,
		cp.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return checkpoint.ErrDuplicateCheckpoint
		}
		return err
	}
	return nil
}

// LatestCheckpoint returns the checkpoint with the highest revision. ok is
// false when none has been written yet.
func (s *Store) LatestCheckpoint(ctx context.Context) (checkpoint.Checkpoint, bool, error) {
	var (
		cp       checkpoint.Checkpoint
		revision int64
		state    []byte
	)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.db.QueryRowContext(ctx, queryLatestCheckpoint).Scan(
		&cp.ID,
		&revision,
		&cp.IdempotencyKey,
		&state,
		&cp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Checkpoint{}, false, nil
	}
	if err != nil {
		return checkpoint.Checkpoint{}, false, err
	}

	cp.Revision = uint64(revision)
	cp.State = schedule.NewState()
	if err := json.Unmarshal(state, cp.State); err != nil {
		return checkpoint.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}
	return cp, true, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
