// Package confirmation moves committed jobs from pending_upload to confirmed.
// The transition happens at most once per job; there is no way back.
package confirmation

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Confirm marks the committed job (jobID, machineID) as confirmed. Confirming
// an already confirmed job is a no-op: changed is false and the original
// ConfirmedAt is kept.
func Confirm(st *schedule.State, jobID uuid.UUID, machineID string, now time.Time) (domain.ScheduledJob, bool, error) {
	i, err := st.ScheduledIndex(jobID, machineID)
	if err != nil {
		return domain.ScheduledJob{}, false, err
	}
	if current := st.Timeline(machineID)[i]; current.Confirmed {
		return current, false, nil
	}
	sj := st.MutableScheduled(machineID, i)
	at := now
	sj.Confirmed = true
	sj.ConfirmedAt = &at
	return *sj, true, nil
}

// ConfirmedEvent builds the event recorded when a job is confirmed.
func ConfirmedEvent(sj domain.ScheduledJob, now time.Time) domain.ScheduleEvent {
	return domain.ScheduleEvent{
		Type:       domain.EventJobConfirmed,
		OccurredAt: now,
		JobID:      sj.ID,
		MachineID:  sj.MachineID,
		Scheduled:  &sj,
	}
}

// Pending lists committed jobs still awaiting upload confirmation whose start
// is at or before cutoff, in machine order.
func Pending(st *schedule.State, cutoff time.Time) []domain.ScheduledJob {
	var out []domain.ScheduledJob
	for _, m := range st.Machines {
		for _, j := range st.Timeline(m.ID) {
			if !j.Confirmed && !j.Start.After(cutoff) {
				out = append(out, j)
			}
		}
	}
	return out
}

// Workflow serializes confirmations against a schedule store.
type Workflow struct {
	store *schedule.Store
}

func New(store *schedule.Store) *Workflow {
	return &Workflow{store: store}
}

// ConfirmUpload confirms the job and, on the first confirmation only, records
// a job_confirmed event. The returned event is nil for repeat confirmations.
func (w *Workflow) ConfirmUpload(jobID uuid.UUID, machineID string, now time.Time) (domain.ScheduledJob, *domain.ScheduleEvent, error) {
	var (
		sj domain.ScheduledJob
		ev *domain.ScheduleEvent
	)
	err := w.store.Update(func(st *schedule.State) error {
		confirmed, changed, err := Confirm(st, jobID, machineID, now)
		if err != nil {
			return err
		}
		sj = confirmed
		if changed {
			e := ConfirmedEvent(confirmed, now)
			st.Record(&e)
			ev = &e
		}
		return nil
	})
	if err != nil {
		return domain.ScheduledJob{}, nil, err
	}
	return sj, ev, nil
}
