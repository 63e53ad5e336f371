package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
)

// parseCreateJob converts a request into a domain job. Domain-level rules
// (positive duration, item group totals) are enforced by the fleet service.
func parseCreateJob(req CreateJobRequest) (domain.Job, error) {
	if strings.TrimSpace(req.Name) == "" {
		return domain.Job{}, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(req.Technology) == "" {
		return domain.Job{}, fmt.Errorf("technology is required")
	}
	estimated, err := parseEstimate(req)
	if err != nil {
		return domain.Job{}, err
	}
	if req.Deadline == "" {
		return domain.Job{}, fmt.Errorf("deadline is required")
	}
	deadline, err := parseTime(req.Deadline)
	if err != nil {
		return domain.Job{}, fmt.Errorf("invalid deadline: %w", err)
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return domain.Job{}, err
	}
	if req.Items < 0 {
		return domain.Job{}, fmt.Errorf("items must not be negative")
	}

	return domain.Job{
		Name:          req.Name,
		ProjectCode:   req.ProjectCode,
		Technology:    req.Technology,
		EstimatedTime: estimated,
		Deadline:      deadline,
		Priority:      priority,
		Items:         req.Items,
		ItemGroups:    req.ItemGroups,
	}, nil
}

func parseEstimate(req CreateJobRequest) (time.Duration, error) {
	switch {
	case req.EstimatedMinutes != 0 && req.EstimatedTime != "":
		return 0, fmt.Errorf("estimated_minutes cannot be combined with estimated_time")
	case req.EstimatedMinutes != 0:
		if req.EstimatedMinutes < 0 {
			return 0, fmt.Errorf("estimated_minutes must be positive")
		}
		return time.Duration(req.EstimatedMinutes) * time.Minute, nil
	case req.EstimatedTime != "":
		d, err := time.ParseDuration(req.EstimatedTime)
		if err != nil {
			return 0, fmt.Errorf("invalid estimated_time: %w", err)
		}
		if d%time.Minute != 0 {
			return 0, fmt.Errorf("estimated_time must be a whole number of minutes")
		}
		return d, nil
	default:
		return 0, fmt.Errorf("estimated_minutes or estimated_time is required")
	}
}

func validateAssignment(req AssignmentRequest) (uuid.UUID, *time.Time, error) {
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid job_id")
	}
	if req.ItemIndex != nil && *req.ItemIndex < 0 {
		return uuid.Nil, nil, fmt.Errorf("item_index must not be negative")
	}

	if req.Auto {
		if req.Start != "" {
			return uuid.Nil, nil, fmt.Errorf("start cannot be combined with auto")
		}
		return jobID, nil, nil
	}

	if req.MachineID == "" {
		return uuid.Nil, nil, fmt.Errorf("machine_id is required unless auto is set")
	}
	if req.Start == "" {
		return jobID, nil, nil
	}
	start, err := parseTime(req.Start)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid start: %w", err)
	}
	return jobID, &start, nil
}

func validateMachine(req CreateMachineRequest) (domain.Machine, error) {
	status, err := domain.ParseBaseStatus(req.Status)
	if err != nil {
		return domain.Machine{}, err
	}
	m := domain.Machine{
		ID:         strings.TrimSpace(req.ID),
		Name:       req.Name,
		Technology: strings.TrimSpace(req.Technology),
		BaseStatus: status,
	}
	if err := m.Validate(); err != nil {
		return domain.Machine{}, err
	}
	return m, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
