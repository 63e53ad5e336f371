package domain

import "time"

type CurrentJob struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
}

// StatusReport is the derived live state of one machine.
type StatusReport struct {
	MachineID          string        `json:"machine_id"`
	Status             MachineStatus `json:"status"`
	BaseStatus         MachineStatus `json:"base_status"`
	CurrentJob         *CurrentJob   `json:"current_job,omitempty"`
	CompletionEstimate *time.Time    `json:"completion_estimate,omitempty"`
	IdleSince          *time.Time    `json:"idle_since,omitempty"`
}
