// Package assignment commits backlog jobs (or single items split out of them)
// onto machine timelines.
package assignment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/interval"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Append commits job after the last job on the target machine, starting at
// max(now, lastEnd). It does not check the deadline; callers consult the slot
// finder for that.
func Append(st *schedule.State, job domain.Schedulable, machineID string, now time.Time) (domain.ScheduledJob, error) {
	if _, ok := st.Machine(machineID); !ok {
		return domain.ScheduledJob{}, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, machineID)
	}
	start := interval.Later(now, st.LastEnd(machineID))
	return commit(st, job, machineID, start, now)
}

// Place commits job at an exact start time. The start must not be in the past
// and the resulting interval must not overlap any committed job.
func Place(st *schedule.State, job domain.Schedulable, machineID string, start, now time.Time) (domain.ScheduledJob, error) {
	if _, ok := st.Machine(machineID); !ok {
		return domain.ScheduledJob{}, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, machineID)
	}
	if start.Before(now) {
		return domain.ScheduledJob{}, fmt.Errorf("%w: %s < %s", domain.ErrSlotInPast,
			start.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return commit(st, job, machineID, start, now)
}

func commit(st *schedule.State, job domain.Schedulable, machineID string, start, now time.Time) (domain.ScheduledJob, error) {
	d := job.Duration()
	if d <= 0 {
		return domain.ScheduledJob{}, fmt.Errorf("%w: %s", domain.ErrInvalidDuration, d)
	}
	src := job.Source()

	sj := domain.ScheduledJob{
		ID:          job.ID(),
		Kind:        job.Kind(),
		Name:        job.Label(),
		ProjectCode: src.ProjectCode,
		Technology:  job.Technology(),
		Priority:    src.Priority,
		Items:       job.Items(),
		Deadline:    job.Deadline(),
		MachineID:   machineID,
		Start:       start,
		End:         start.Add(d),
		Color:       domain.ColorForDuration(d),
		Confirmed:   false,
		CommittedAt: now,
	}
	if sub, ok := job.(domain.SubItemJob); ok {
		sj.ParentID = sub.Parent.ID
		sj.ItemIndex = sub.Index
	}

	if err := st.Commit(sj); err != nil {
		return domain.ScheduledJob{}, err
	}
	return sj, nil
}

// CommittedEvent builds the event recorded for a commit.
func CommittedEvent(sj domain.ScheduledJob, now time.Time) domain.ScheduleEvent {
	return domain.ScheduleEvent{
		Type:       domain.EventJobCommitted,
		OccurredAt: now,
		JobID:      sj.ID,
		MachineID:  sj.MachineID,
		Scheduled:  &sj,
	}
}

// Result is a committed job together with the event recorded for it.
type Result struct {
	Job   domain.ScheduledJob
	Event domain.ScheduleEvent
}

// Executor runs assignments as serialized updates against a store. Each
// successful commit records a job_committed event in the same update.
type Executor struct {
	store *schedule.Store
}

func New(store *schedule.Store) *Executor {
	return &Executor{store: store}
}

// Assign commits a whole backlog job after the last job on machineID.
func (e *Executor) Assign(jobID uuid.UUID, machineID string, now time.Time) (Result, error) {
	return e.run(jobID, nil, now, func(st *schedule.State, job domain.Schedulable) (domain.ScheduledJob, error) {
		return Append(st, job, machineID, now)
	})
}

// AssignItem commits one item of a multi-item job as a sub-job.
func (e *Executor) AssignItem(jobID uuid.UUID, itemIndex int, machineID string, now time.Time) (Result, error) {
	return e.run(jobID, &itemIndex, now, func(st *schedule.State, job domain.Schedulable) (domain.ScheduledJob, error) {
		return Append(st, job, machineID, now)
	})
}

// AssignAt commits a job or item at an exact start time.
func (e *Executor) AssignAt(jobID uuid.UUID, itemIndex *int, machineID string, start, now time.Time) (Result, error) {
	return e.run(jobID, itemIndex, now, func(st *schedule.State, job domain.Schedulable) (domain.ScheduledJob, error) {
		return Place(st, job, machineID, start, now)
	})
}

func (e *Executor) run(jobID uuid.UUID, itemIndex *int, now time.Time, fn func(*schedule.State, domain.Schedulable) (domain.ScheduledJob, error)) (Result, error) {
	var res Result
	err := e.store.Update(func(st *schedule.State) error {
		job, err := st.Resolve(jobID, itemIndex)
		if err != nil {
			return err
		}
		sj, err := fn(st, job)
		if err != nil {
			return err
		}
		ev := CommittedEvent(sj, now)
		st.Record(&ev)
		res = Result{Job: sj, Event: ev}
		return nil
	})
	return res, err
}
