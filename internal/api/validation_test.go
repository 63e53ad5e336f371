package api

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/domain"
)

func TestParseCreateJob_Valid(t *testing.T) {
	req := CreateJobRequest{
		Name:          "housing",
		Technology:    "SLA",
		EstimatedTime: "90m",
		Deadline:      "2024-01-16T18:00:00+02:00",
		Priority:      "HIGH",
		ItemGroups:    []domain.ItemGroup{{Quantity: 2, Materials: []string{"resin"}}},
	}

	job, err := parseCreateJob(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.EstimatedTime != 90*time.Minute {
		t.Errorf("estimated: got %v", job.EstimatedTime)
	}
	if !job.Deadline.Equal(time.Date(2024, 1, 16, 16, 0, 0, 0, time.UTC)) || job.Deadline.Location() != time.UTC {
		t.Errorf("deadline should be normalised to UTC, got %v", job.Deadline)
	}
	if job.Priority != domain.PriorityHigh {
		t.Errorf("priority: got %q", job.Priority)
	}
	if job.Items != 0 {
		t.Errorf("items should be left for Normalize, got %d", job.Items)
	}
}

func TestParseCreateJob_EstimatedMinutes(t *testing.T) {
	job, err := parseCreateJob(CreateJobRequest{
		Name:             "gear",
		Technology:       "FDM",
		EstimatedMinutes: 150,
		Deadline:         "2024-01-16T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.EstimatedTime != 150*time.Minute {
		t.Errorf("estimated: got %v, want 2h30m", job.EstimatedTime)
	}
}

func TestParseCreateJob_Errors(t *testing.T) {
	base := CreateJobRequest{Name: "n", Technology: "FDM", EstimatedTime: "1h", Deadline: "2024-01-16T00:00:00Z"}
	tests := []struct {
		name    string
		mutate  func(*CreateJobRequest)
		wantErr string
	}{
		{"name", func(r *CreateJobRequest) { r.Name = "" }, "name is required"},
		{"technology", func(r *CreateJobRequest) { r.Technology = "" }, "technology is required"},
		{"estimated missing", func(r *CreateJobRequest) { r.EstimatedTime = "" }, "estimated_minutes or estimated_time is required"},
		{"estimated invalid", func(r *CreateJobRequest) { r.EstimatedTime = "1 hour" }, "invalid estimated_time"},
		{"estimated fractional minutes", func(r *CreateJobRequest) { r.EstimatedTime = "90s" }, "whole number of minutes"},
		{"estimated both forms", func(r *CreateJobRequest) { r.EstimatedMinutes = 60 }, "cannot be combined"},
		{"estimated minutes negative", func(r *CreateJobRequest) {
			r.EstimatedTime = ""
			r.EstimatedMinutes = -5
		}, "estimated_minutes must be positive"},
		{"deadline missing", func(r *CreateJobRequest) { r.Deadline = "" }, "deadline is required"},
		{"deadline invalid", func(r *CreateJobRequest) { r.Deadline = "2024-01-16" }, "invalid deadline"},
		{"priority", func(r *CreateJobRequest) { r.Priority = "asap" }, "unknown priority"},
		{"items", func(r *CreateJobRequest) { r.Items = -1 }, "items must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := parseCreateJob(req)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAssignment(t *testing.T) {
	id := uuid.New()
	neg := -1
	tests := []struct {
		name      string
		req       AssignmentRequest
		wantErr   string
		wantStart bool
	}{
		{"append", AssignmentRequest{JobID: id.String(), MachineID: "p1"}, "", false},
		{"exact", AssignmentRequest{JobID: id.String(), MachineID: "p1", Start: "2024-01-15T10:00:00Z"}, "", true},
		{"auto", AssignmentRequest{JobID: id.String(), Auto: true}, "", false},
		{"bad id", AssignmentRequest{JobID: "123", MachineID: "p1"}, "invalid job_id", false},
		{"negative item", AssignmentRequest{JobID: id.String(), MachineID: "p1", ItemIndex: &neg}, "item_index", false},
		{"no machine", AssignmentRequest{JobID: id.String()}, "machine_id is required", false},
		{"bad start", AssignmentRequest{JobID: id.String(), MachineID: "p1", Start: "10am"}, "invalid start", false},
		{"auto and start", AssignmentRequest{JobID: id.String(), Auto: true, Start: "2024-01-15T10:00:00Z"}, "cannot be combined", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, start, err := validateAssignment(tt.req)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotID != id {
				t.Errorf("job id: got %s", gotID)
			}
			if (start != nil) != tt.wantStart {
				t.Errorf("start presence: got %v, want %v", start != nil, tt.wantStart)
			}
		})
	}
}

func TestValidateMachine(t *testing.T) {
	m, err := validateMachine(CreateMachineRequest{ID: " p1 ", Technology: " FDM ", Status: "Offline"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != "p1" || m.Technology != "FDM" || m.BaseStatus != domain.MachineStatusOffline {
		t.Errorf("unexpected machine: %+v", m)
	}

	if _, err := validateMachine(CreateMachineRequest{Technology: "FDM"}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := validateMachine(CreateMachineRequest{ID: "p1", Technology: "FDM", Status: "printing"}); err == nil {
		t.Error("expected error for printing status")
	}
}
