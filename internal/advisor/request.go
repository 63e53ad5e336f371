// Package advisor talks to an external planning advisor. The advisor receives
// a read-only snapshot of the schedule and answers with placement proposals;
// it never mutates the schedule itself.
package advisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// NewProject describes the work an operator wants the advisor to plan for.
type NewProject struct {
	ProjectCode string      `json:"project_code"`
	JobIDs      []uuid.UUID `json:"job_ids,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

// Request is the serializable payload sent to the advisor.
type Request struct {
	ID          string                `json:"id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Snapshot    *schedule.State       `json:"snapshot"`
	Statuses    []domain.StatusReport `json:"statuses"`
	Project     NewProject            `json:"project"`
}

// Response carries the advisor's proposals. DelayRationale explains why the
// project cannot meet its deadlines, when that is the case.
type Response struct {
	Proposals      []domain.Proposal `json:"proposals"`
	DelayRationale string            `json:"delay_rationale,omitempty"`
}
