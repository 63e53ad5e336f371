package api

import (
	"time"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

type CreateJobRequest struct {
	Name        string `json:"name"`
	ProjectCode string `json:"project_code,omitempty"`
	Technology  string `json:"technology"`

	// One of EstimatedMinutes or EstimatedTime is required. EstimatedTime is
	// a Go duration string such as "2h30m".
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	EstimatedTime    string `json:"estimated_time,omitempty"`
	Deadline         string `json:"deadline"` // RFC 3339
	Priority         string `json:"priority,omitempty"`

	Items      int                `json:"items,omitempty"`
	ItemGroups []domain.ItemGroup `json:"item_groups,omitempty"`
}

type JobResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ProjectCode   string             `json:"project_code,omitempty"`
	Technology    string             `json:"technology"`
	EstimatedTime string             `json:"estimated_time"`
	EstimatedMins int                `json:"estimated_minutes"`
	Deadline      string             `json:"deadline"`
	Priority      string             `json:"priority"`
	Items         int                `json:"items"`
	ItemGroups    []domain.ItemGroup `json:"item_groups,omitempty"`
	CreatedAt     string             `json:"created_at"`
}

type BacklogEntryResponse struct {
	Job            JobResponse `json:"job"`
	CommittedItems []int       `json:"committed_items"`
	RemainingItems []int       `json:"remaining_items"`
}

type ListBacklogResponse struct {
	Backlog []BacklogEntryResponse `json:"backlog"`
	Total   int                    `json:"total"`
}

type ScheduledJobResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	ParentID    string  `json:"parent_id,omitempty"`
	ItemIndex   *int    `json:"item_index,omitempty"`
	Name        string  `json:"name"`
	ProjectCode string  `json:"project_code,omitempty"`
	Technology  string  `json:"technology"`
	Priority    string  `json:"priority"`
	Items       int     `json:"items"`
	Deadline    string  `json:"deadline"`
	MachineID   string  `json:"machine_id"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Color       string  `json:"color"`
	Confirmed   bool    `json:"confirmed"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
}

type TimelinesResponse struct {
	Timelines map[string][]ScheduledJobResponse `json:"timelines"`
}

// AssignmentRequest commits a backlog job. With Auto set the earliest
// feasible slot is used; with Start set the job is placed exactly there;
// otherwise it is appended after the last job on MachineID.
type AssignmentRequest struct {
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id,omitempty"`
	ItemIndex *int   `json:"item_index,omitempty"`
	Start     string `json:"start,omitempty"`
	Auto      bool   `json:"auto,omitempty"`
}

type ConfirmationRequest struct {
	JobID     string `json:"job_id"`
	MachineID string `json:"machine_id"`
}

type CreateMachineRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Technology string `json:"technology"`
	Status     string `json:"status,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type MachineResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Technology string `json:"technology"`
	BaseStatus string `json:"base_status"`
	CreatedAt  string `json:"created_at"`
}

type MachineStatusesResponse struct {
	Machines []domain.StatusReport `json:"machines"`
}

type SlotResponse struct {
	Feasible bool         `json:"feasible"`
	Slot     *domain.Slot `json:"slot,omitempty"`
}

type ApplyProposalResponse struct {
	Jobs     []ScheduledJobResponse `json:"jobs"`
	Statuses []domain.StatusReport  `json:"statuses"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toJobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:            j.ID.String(),
		Name:          j.Name,
		ProjectCode:   j.ProjectCode,
		Technology:    j.Technology,
		EstimatedTime: j.EstimatedTime.String(),
		EstimatedMins: int(j.EstimatedTime / time.Minute),
		Deadline:      formatTime(j.Deadline),
		Priority:      string(j.Priority),
		Items:         j.Items,
		ItemGroups:    j.ItemGroups,
		CreatedAt:     formatTime(j.CreatedAt),
	}
}

func toBacklogResponse(e schedule.BacklogEntry) BacklogEntryResponse {
	committed := e.CommittedItems
	if committed == nil {
		committed = []int{}
	}
	return BacklogEntryResponse{
		Job:            toJobResponse(e.Job),
		CommittedItems: committed,
		RemainingItems: e.RemainingItems(),
	}
}

func toScheduledResponse(sj domain.ScheduledJob) ScheduledJobResponse {
	resp := ScheduledJobResponse{
		ID:          sj.ID.String(),
		Kind:        string(sj.Kind),
		Name:        sj.Name,
		ProjectCode: sj.ProjectCode,
		Technology:  sj.Technology,
		Priority:    string(sj.Priority),
		Items:       sj.Items,
		Deadline:    formatTime(sj.Deadline),
		MachineID:   sj.MachineID,
		Start:       formatTime(sj.Start),
		End:         formatTime(sj.End),
		Color:       sj.Color,
		Confirmed:   sj.Confirmed,
	}
	if sj.Kind == domain.JobKindSubItem {
		idx := sj.ItemIndex
		resp.ParentID = sj.ParentID.String()
		resp.ItemIndex = &idx
	}
	if sj.ConfirmedAt != nil {
		s := formatTime(*sj.ConfirmedAt)
		resp.ConfirmedAt = &s
	}
	return resp
}

func toScheduledResponses(jobs []domain.ScheduledJob) []ScheduledJobResponse {
	out := make([]ScheduledJobResponse, len(jobs))
	for i, sj := range jobs {
		out[i] = toScheduledResponse(sj)
	}
	return out
}

func toMachineResponse(m domain.Machine) MachineResponse {
	return MachineResponse{
		ID:         m.ID,
		Name:       m.Name,
		Technology: m.Technology,
		BaseStatus: string(m.BaseStatus),
		CreatedAt:  formatTime(m.CreatedAt),
	}
}
