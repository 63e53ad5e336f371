package domain

import (
	"fmt"
	"strings"
	"time"
)

type MachineStatus string

const (
	MachineStatusIdle        MachineStatus = "idle"
	MachineStatusPrinting    MachineStatus = "printing"
	MachineStatusMaintenance MachineStatus = "maintenance"
	MachineStatusOffline     MachineStatus = "offline"
)

// ParseBaseStatus parses an operator-settable status. Printing is always
// derived from the schedule and cannot be set.
func ParseBaseStatus(s string) (MachineStatus, error) {
	switch MachineStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", MachineStatusIdle:
		return MachineStatusIdle, nil
	case MachineStatusMaintenance:
		return MachineStatusMaintenance, nil
	case MachineStatusOffline:
		return MachineStatusOffline, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// IsManual reports whether the status is operator-controlled and sticky.
func (s MachineStatus) IsManual() bool {
	return s == MachineStatusMaintenance || s == MachineStatusOffline
}

// Machine is a printer. BaseStatus holds only the operator-set state.
type Machine struct {
	ID         string        `json:"id" yaml:"id"`
	Name       string        `json:"name" yaml:"name"`
	Technology string        `json:"technology" yaml:"technology"`
	BaseStatus MachineStatus `json:"base_status" yaml:"status"`
	CreatedAt  time.Time     `json:"created_at" yaml:"-"`
}

// Supports reports whether the machine can print the given technology.
func (m Machine) Supports(technology string) bool {
	return strings.EqualFold(strings.TrimSpace(m.Technology), strings.TrimSpace(technology))
}

func (m Machine) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: machine id is required", ErrInvalidMachine)
	}
	if strings.TrimSpace(m.Technology) == "" {
		return fmt.Errorf("%w: machine %s technology is required", ErrInvalidMachine, m.ID)
	}
	if _, err := ParseBaseStatus(string(m.BaseStatus)); err != nil {
		return err
	}
	return nil
}
