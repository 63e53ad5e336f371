// Package testutil provides shared test helpers for printfleet.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
)

// Epoch is the reference "now" used across scheduling tests.
var Epoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Machine returns an idle machine with the given technology.
func Machine(id, technology string) domain.Machine {
	return domain.Machine{
		ID:         id,
		Name:       "printer " + id,
		Technology: technology,
		BaseStatus: domain.MachineStatusIdle,
		CreatedAt:  Epoch,
	}
}

// Job returns a valid single-item backlog job.
func Job(name, technology string, estimated time.Duration, deadline time.Time) domain.Job {
	return domain.Job{
		ID:            uuid.New(),
		Name:          name,
		ProjectCode:   "PRJ-1",
		Technology:    technology,
		EstimatedTime: estimated,
		Deadline:      deadline,
		Priority:      domain.PriorityMedium,
		Items:         1,
		CreatedAt:     Epoch,
	}
}

// Scheduled returns a committed job occupying [start, start+d) on machineID.
func Scheduled(machineID string, start time.Time, d time.Duration, confirmed bool) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID:          uuid.New(),
		Kind:        domain.JobKindOriginal,
		Name:        "existing",
		Technology:  "FDM",
		Priority:    domain.PriorityMedium,
		Items:       1,
		Deadline:    start.Add(d).Add(24 * time.Hour),
		MachineID:   machineID,
		Start:       start,
		End:         start.Add(d),
		Color:       domain.ColorForDuration(d),
		Confirmed:   confirmed,
		CommittedAt: Epoch,
	}
}
