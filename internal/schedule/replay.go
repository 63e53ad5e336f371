package schedule

import (
	"fmt"

	"github.com/djlord-it/printfleet/internal/domain"
)

// ApplyEvent replays a recorded event onto the state. Events at or below the
// current revision are already reflected and are skipped.
func (s *State) ApplyEvent(ev domain.ScheduleEvent) error {
	if ev.Revision <= s.Revision {
		return nil
	}

	switch ev.Type {
	case domain.EventJobSubmitted:
		if ev.Job == nil {
			return fmt.Errorf("revision %d: %s without job", ev.Revision, ev.Type)
		}
		if err := s.SubmitJob(*ev.Job); err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}

	case domain.EventJobDeleted:
		if _, err := s.DeleteJob(ev.JobID); err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}

	case domain.EventMachineAdded:
		if ev.Machine == nil {
			return fmt.Errorf("revision %d: %s without machine", ev.Revision, ev.Type)
		}
		if err := s.AddMachine(*ev.Machine); err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}

	case domain.EventMachineStatusSet:
		if err := s.SetBaseStatus(ev.MachineID, ev.Status); err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}

	case domain.EventJobCommitted:
		if ev.Scheduled == nil {
			return fmt.Errorf("revision %d: %s without scheduled job", ev.Revision, ev.Type)
		}
		if err := s.Commit(*ev.Scheduled); err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}

	case domain.EventJobConfirmed:
		i, err := s.ScheduledIndex(ev.JobID, ev.MachineID)
		if err != nil {
			return fmt.Errorf("revision %d: %w", ev.Revision, err)
		}
		j := s.MutableScheduled(ev.MachineID, i)
		j.Confirmed = true
		if ev.Scheduled != nil {
			j.ConfirmedAt = ev.Scheduled.ConfirmedAt
		}

	default:
		return fmt.Errorf("revision %d: unknown event type %q", ev.Revision, ev.Type)
	}

	s.Revision = ev.Revision
	return nil
}
