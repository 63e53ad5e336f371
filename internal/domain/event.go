package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventJobSubmitted     EventType = "job_submitted"
	EventJobDeleted       EventType = "job_deleted"
	EventMachineAdded     EventType = "machine_added"
	EventMachineStatusSet EventType = "machine_status_set"
	EventJobCommitted     EventType = "job_committed"
	EventJobConfirmed     EventType = "job_confirmed"
)

// ScheduleEvent records one mutation of the schedule. Revision is assigned by
// the schedule store and increases by one per event.
type ScheduleEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	Revision   uint64    `json:"revision"`
	OccurredAt time.Time `json:"occurred_at"`

	JobID     uuid.UUID     `json:"job_id,omitempty"`
	MachineID string        `json:"machine_id,omitempty"`
	Status    MachineStatus `json:"status,omitempty"`

	Job       *Job          `json:"job,omitempty"`
	Machine   *Machine      `json:"machine,omitempty"`
	Scheduled *ScheduledJob `json:"scheduled,omitempty"`
}
