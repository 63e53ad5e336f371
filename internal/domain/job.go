package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts any letter case; empty input maps to PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case string(PriorityLow):
		return PriorityLow, nil
	case string(PriorityMedium):
		return PriorityMedium, nil
	case string(PriorityHigh):
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// MinItemDuration is the shortest estimated time a single item may carry.
// Estimates are planned in whole minutes.
const MinItemDuration = time.Minute

type ItemGroup struct {
	Quantity  int      `json:"quantity"`
	Materials []string `json:"materials,omitempty"`
}

// Job is a print job as submitted to the backlog.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProjectCode string    `json:"project_code,omitempty"`
	Technology  string    `json:"technology"`

	EstimatedTime time.Duration `json:"estimated_time"`
	Deadline      time.Time     `json:"deadline"`
	Priority      Priority      `json:"priority"`

	Items      int         `json:"items"`
	ItemGroups []ItemGroup `json:"item_groups,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Normalize fills defaults for fields the caller may omit.
func (j *Job) Normalize() {
	if j.Items == 0 {
		for _, g := range j.ItemGroups {
			j.Items += g.Quantity
		}
	}
	if j.Items == 0 {
		j.Items = 1
	}
	if j.Priority == "" {
		j.Priority = PriorityMedium
	}
	j.Technology = strings.TrimSpace(j.Technology)
}

// Validate rejects jobs that must never reach the scheduler.
func (j Job) Validate() error {
	if j.EstimatedTime <= 0 {
		return fmt.Errorf("%w: estimated time %s", ErrInvalidDuration, j.EstimatedTime)
	}
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if j.Technology == "" {
		return fmt.Errorf("%w: technology is required", ErrInvalidJob)
	}
	if j.Deadline.IsZero() {
		return fmt.Errorf("%w: deadline is required", ErrInvalidJob)
	}
	if j.Items < 1 {
		return fmt.Errorf("%w: items must be at least 1", ErrInvalidJob)
	}
	if j.ItemDuration() < MinItemDuration {
		return fmt.Errorf("%w: estimated time %s is under %s per item for %d items",
			ErrInvalidDuration, j.EstimatedTime, MinItemDuration, j.Items)
	}
	if _, err := ParsePriority(string(j.Priority)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if len(j.ItemGroups) > 0 {
		total := 0
		for i, g := range j.ItemGroups {
			if g.Quantity < 1 {
				return fmt.Errorf("%w: item group %d quantity must be at least 1", ErrInvalidJob, i)
			}
			total += g.Quantity
		}
		if total != j.Items {
			return fmt.Errorf("%w: item groups hold %d items, job declares %d", ErrInvalidJob, total, j.Items)
		}
	}
	return nil
}

// ItemDuration is the share of EstimatedTime attributed to a single item.
func (j Job) ItemDuration() time.Duration {
	if j.Items <= 1 {
		return j.EstimatedTime
	}
	return j.EstimatedTime / time.Duration(j.Items)
}
