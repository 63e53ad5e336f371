package domain

import (
	"time"

	"github.com/google/uuid"
)

// Placement asks for a backlog job (or one of its items) to be committed at
// an exact start time. ItemIndex is nil for whole-job placements.
type Placement struct {
	JobID     uuid.UUID `json:"job_id"`
	ItemIndex *int      `json:"item_index,omitempty"`
	MachineID string    `json:"machine_id"`
	Start     time.Time `json:"start"`
}

// Proposal is a candidate schedule rewrite returned by the external advisor.
// It carries no authority: it is applied through the normal commit path.
type Proposal struct {
	ID         string      `json:"id"`
	Rationale  string      `json:"rationale,omitempty"`
	Placements []Placement `json:"placements"`
}
