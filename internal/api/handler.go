package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/advisor"
	"github.com/djlord-it/printfleet/internal/circuitbreaker"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/fleet"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Fleet is the scheduling surface served over HTTP. *fleet.Service implements it.
type Fleet interface {
	SubmitJob(ctx context.Context, job domain.Job) (domain.Job, error)
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
	AddMachine(ctx context.Context, m domain.Machine) (domain.Machine, error)
	SetMachineStatus(ctx context.Context, machineID string, base domain.MachineStatus) (domain.StatusReport, error)

	Assign(ctx context.Context, jobID uuid.UUID, machineID string) (domain.ScheduledJob, error)
	AssignItem(ctx context.Context, jobID uuid.UUID, itemIndex int, machineID string) (domain.ScheduledJob, error)
	AssignAt(ctx context.Context, jobID uuid.UUID, itemIndex *int, machineID string, start time.Time) (domain.ScheduledJob, error)
	AutoAssign(ctx context.Context, jobID uuid.UUID, itemIndex *int) (domain.ScheduledJob, error)
	ConfirmUpload(ctx context.Context, jobID uuid.UUID, machineID string) (domain.ScheduledJob, error)
	FindOptimalSlot(jobID uuid.UUID, itemIndex *int) (domain.Slot, bool, error)

	ApplyProposal(ctx context.Context, p domain.Proposal) ([]domain.ScheduledJob, []domain.StatusReport, error)
	RequestProposals(ctx context.Context, project advisor.NewProject) (advisor.Response, error)

	Timelines() map[string][]domain.ScheduledJob
	Backlog() []schedule.BacklogEntry
	MachineStatuses() []domain.StatusReport
}

var _ Fleet = (*fleet.Service)(nil)

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	fleet Fleet
	db    HealthChecker
}

func NewHandler(f Fleet) *Handler {
	return &Handler{fleet: f}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.submitJob(w, r)

	case path == "/backlog" && r.Method == http.MethodGet:
		h.listBacklog(w, r)

	case len(parts) == 2 && parts[0] == "jobs" && r.Method == http.MethodDelete:
		h.deleteJob(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "slot" && r.Method == http.MethodGet:
		h.findSlot(w, r, parts[1])

	case path == "/assignments" && r.Method == http.MethodPost:
		h.assign(w, r)

	case path == "/confirmations" && r.Method == http.MethodPost:
		h.confirm(w, r)

	case path == "/timelines" && r.Method == http.MethodGet:
		h.timelines(w, r)

	case path == "/machines" && r.Method == http.MethodGet:
		h.machineStatuses(w, r)

	case path == "/machines" && r.Method == http.MethodPost:
		h.addMachine(w, r)

	case len(parts) == 3 && parts[0] == "machines" && parts[2] == "status" && r.Method == http.MethodPut:
		h.setMachineStatus(w, r, parts[1])

	case path == "/proposals" && r.Method == http.MethodPost:
		h.applyProposal(w, r)

	case path == "/advisor/requests" && r.Method == http.MethodPost:
		h.requestProposals(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decode reads a JSON body into v and writes the error response on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decode(w, r, &req) {
		return
	}

	job, err := parseCreateJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err = h.fleet.SubmitJob(r.Context(), job)
	if err != nil {
		writeDomainError(w, "submit job", err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listBacklog(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	backlog := h.fleet.Backlog()
	resp := ListBacklogResponse{Backlog: []BacklogEntryResponse{}, Total: len(backlog)}
	if offset < len(backlog) {
		end := offset + limit
		if end > len(backlog) {
			end = len(backlog)
		}
		for _, e := range backlog[offset:end] {
			resp.Backlog = append(resp.Backlog, toBacklogResponse(e))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.fleet.DeleteJob(r.Context(), jobID); err != nil {
		writeDomainError(w, "delete job", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findSlot(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var itemIndex *int
	if s := r.URL.Query().Get("item"); s != "" {
		idx, err := strconv.Atoi(s)
		if err != nil || idx < 0 {
			writeError(w, http.StatusBadRequest, "invalid item index")
			return
		}
		itemIndex = &idx
	}

	slot, ok, err := h.fleet.FindOptimalSlot(jobID, itemIndex)
	if err != nil {
		writeDomainError(w, "find slot", err)
		return
	}

	resp := SlotResponse{Feasible: ok}
	if ok {
		resp.Slot = &slot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !decode(w, r, &req) {
		return
	}

	jobID, start, err := validateAssignment(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var sj domain.ScheduledJob
	switch {
	case req.Auto:
		sj, err = h.fleet.AutoAssign(ctx, jobID, req.ItemIndex)
	case start != nil:
		sj, err = h.fleet.AssignAt(ctx, jobID, req.ItemIndex, req.MachineID, *start)
	case req.ItemIndex != nil:
		sj, err = h.fleet.AssignItem(ctx, jobID, *req.ItemIndex, req.MachineID)
	default:
		sj, err = h.fleet.Assign(ctx, jobID, req.MachineID)
	}
	if err != nil {
		writeDomainError(w, "assign", err)
		return
	}

	writeJSON(w, http.StatusCreated, toScheduledResponse(sj))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationRequest
	if !decode(w, r, &req) {
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job_id")
		return
	}
	if req.MachineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}

	sj, err := h.fleet.ConfirmUpload(r.Context(), jobID, req.MachineID)
	if err != nil {
		writeDomainError(w, "confirm", err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduledResponse(sj))
}

func (h *Handler) timelines(w http.ResponseWriter, r *http.Request) {
	tls := h.fleet.Timelines()
	resp := TimelinesResponse{Timelines: make(map[string][]ScheduledJobResponse, len(tls))}
	for id, tl := range tls {
		resp.Timelines[id] = toScheduledResponses(tl)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) machineStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.fleet.MachineStatuses()
	if statuses == nil {
		statuses = []domain.StatusReport{}
	}
	writeJSON(w, http.StatusOK, MachineStatusesResponse{Machines: statuses})
}

func (h *Handler) addMachine(w http.ResponseWriter, r *http.Request) {
	var req CreateMachineRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := validateMachine(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err = h.fleet.AddMachine(r.Context(), m)
	if err != nil {
		writeDomainError(w, "add machine", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMachineResponse(m))
}

func (h *Handler) setMachineStatus(w http.ResponseWriter, r *http.Request, machineID string) {
	var req SetStatusRequest
	if !decode(w, r, &req) {
		return
	}

	base, err := domain.ParseBaseStatus(req.Status)
	if err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status must be one of idle, maintenance, offline")
		return
	}

	report, err := h.fleet.SetMachineStatus(r.Context(), machineID, base)
	if err != nil {
		writeDomainError(w, "set machine status", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) applyProposal(w http.ResponseWriter, r *http.Request) {
	var p domain.Proposal
	if !decode(w, r, &p) {
		return
	}

	jobs, statuses, err := h.fleet.ApplyProposal(r.Context(), p)
	if err != nil {
		writeDomainError(w, "apply proposal", err)
		return
	}

	writeJSON(w, http.StatusCreated, ApplyProposalResponse{
		Jobs:     toScheduledResponses(jobs),
		Statuses: statuses,
	})
}

func (h *Handler) requestProposals(w http.ResponseWriter, r *http.Request) {
	var project advisor.NewProject
	if !decode(w, r, &project) {
		return
	}

	resp, err := h.fleet.RequestProposals(r.Context(), project)
	if err != nil {
		writeDomainError(w, "request proposals", err)
		return
	}
	if resp.Proposals == nil {
		resp.Proposals = []domain.Proposal{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps scheduling errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrMachineNotFound),
		errors.Is(err, domain.ErrScheduledJobNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrMachineExists),
		errors.Is(err, domain.ErrJobExists),
		errors.Is(err, domain.ErrSlotConflict),
		errors.Is(err, domain.ErrItemAlreadyCommitted),
		errors.Is(err, domain.ErrJobPartiallyCommitted):
		return http.StatusConflict

	case errors.Is(err, domain.ErrInfeasible),
		errors.Is(err, domain.ErrSlotInPast),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, domain.ErrInvalidMachine),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrItemOutOfRange):
		return http.StatusUnprocessableEntity

	case errors.Is(err, fleet.ErrAdvisorDisabled),
		errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable

	case errors.Is(err, advisor.ErrRejected),
		errors.Is(err, advisor.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: %s error: %v", op, err)
		writeError(w, status, "failed to "+op)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
