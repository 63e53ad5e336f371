package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/interval"
)

type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending_upload"
	ConfirmationConfirmed ConfirmationState = "confirmed"
)

// ScheduledJob is a job (or sub-item) committed to a machine timeline.
type ScheduledJob struct {
	ID        uuid.UUID `json:"id"`
	Kind      JobKind   `json:"kind"`
	ParentID  uuid.UUID `json:"parent_id"`
	ItemIndex int       `json:"item_index"`

	Name        string    `json:"name"`
	ProjectCode string    `json:"project_code,omitempty"`
	Technology  string    `json:"technology"`
	Priority    Priority  `json:"priority"`
	Items       int       `json:"items"`
	Deadline    time.Time `json:"deadline"`

	MachineID string    `json:"machine_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Color     string    `json:"color"`

	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CommittedAt time.Time  `json:"committed_at"`
}

func (j ScheduledJob) Interval() interval.Interval {
	return interval.Interval{Start: j.Start, End: j.End}
}

func (j ScheduledJob) Duration() time.Duration {
	return j.End.Sub(j.Start)
}

func (j ScheduledJob) ConfirmationState() ConfirmationState {
	if j.Confirmed {
		return ConfirmationConfirmed
	}
	return ConfirmationPending
}

// Slot is a machine and a start time long enough to host a job.
type Slot struct {
	MachineID string    `json:"machine_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Colour buckets by duration.
const (
	ColorShort    = "green"
	ColorMedium   = "blue"
	ColorLong     = "orange"
	ColorVeryLong = "red"
)

// ColorForDuration buckets a job duration into a display colour.
func ColorForDuration(d time.Duration) string {
	switch {
	case d <= time.Hour:
		return ColorShort
	case d <= 4*time.Hour:
		return ColorMedium
	case d <= 12*time.Hour:
		return ColorLong
	default:
		return ColorVeryLong
	}
}
