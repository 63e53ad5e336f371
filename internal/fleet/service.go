// Package fleet is the command and query surface of the scheduling core. Each
// operation reads the clock once and passes that instant to every component
// it touches, so the slot finder, executor and status deriver agree on "now".
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/printfleet/internal/advisor"
	"github.com/djlord-it/printfleet/internal/assignment"
	"github.com/djlord-it/printfleet/internal/confirmation"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/metrics"
	"github.com/djlord-it/printfleet/internal/schedule"
	"github.com/djlord-it/printfleet/internal/slotfinder"
	"github.com/djlord-it/printfleet/internal/status"
)

var ErrAdvisorDisabled = errors.New("advisor not configured")

// Emitter publishes recorded events after the mutation that produced them is
// visible to readers.
type Emitter interface {
	Emit(ctx context.Context, event domain.ScheduleEvent) error
}

// Advisor produces placement proposals from a schedule snapshot.
type Advisor interface {
	Propose(ctx context.Context, req advisor.Request) (advisor.Response, error)
}

type Service struct {
	store    *schedule.Store
	executor *assignment.Executor
	confirm  *confirmation.Workflow
	deriver  *status.Deriver

	now func() time.Time

	// optional, nil = disabled
	emitter Emitter
	advisor Advisor

	metrics metrics.Sink
}

func New(store *schedule.Store) *Service {
	return &Service{
		store:    store,
		executor: assignment.New(store),
		confirm:  confirmation.New(store),
		deriver:  status.New(),
		now:      time.Now,
		metrics:  metrics.NewNoopSink(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithEmitter(e Emitter) *Service {
	s.emitter = e
	return s
}

func (s *Service) WithAdvisor(a Advisor) *Service {
	s.advisor = a
	return s
}

func (s *Service) WithMetrics(sink metrics.Sink) *Service {
	s.metrics = sink
	return s
}

// Deriver exposes the status deriver shared with the status refresh loop.
func (s *Service) Deriver() *status.Deriver {
	return s.deriver
}

func (s *Service) Store() *schedule.Store {
	return s.store
}

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.OperationCompleted(op, time.Since(start), err)
}

func (s *Service) publish(ctx context.Context, events ...domain.ScheduleEvent) {
	if s.emitter == nil {
		return
	}
	for _, ev := range events {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			log.Printf("fleet: publish event type=%s revision=%d failed: %v", ev.Type, ev.Revision, err)
		}
	}
}

func (s *Service) updateBacklogGauge() {
	var n int
	s.store.View(func(st *schedule.State) { n = len(st.Backlog) })
	s.metrics.BacklogSizeUpdate(n)
}

// SubmitJob validates a job and appends it to the backlog. A missing id is
// generated; CreatedAt is stamped with the operation time.
func (s *Service) SubmitJob(ctx context.Context, job domain.Job) (out domain.Job, err error) {
	started := time.Now()
	defer func() { s.observe("submit_job", started, err) }()

	now := s.now()
	job.Normalize()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now

	var ev domain.ScheduleEvent
	err = s.store.Update(func(st *schedule.State) error {
		if err := st.SubmitJob(job); err != nil {
			return err
		}
		j := job
		ev = domain.ScheduleEvent{Type: domain.EventJobSubmitted, OccurredAt: now, JobID: job.ID, Job: &j}
		st.Record(&ev)
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}

	log.Printf("fleet: job=%s submitted name=%q technology=%s items=%d", job.ID, job.Name, job.Technology, job.Items)
	s.publish(ctx, ev)
	s.updateBacklogGauge()
	return job, nil
}

// DeleteJob removes a job from the backlog. Committed jobs cannot be deleted.
func (s *Service) DeleteJob(ctx context.Context, jobID uuid.UUID) (err error) {
	started := time.Now()
	defer func() { s.observe("delete_job", started, err) }()

	now := s.now()
	var ev domain.ScheduleEvent
	err = s.store.Update(func(st *schedule.State) error {
		if _, err := st.DeleteJob(jobID); err != nil {
			return err
		}
		ev = domain.ScheduleEvent{Type: domain.EventJobDeleted, OccurredAt: now, JobID: jobID}
		st.Record(&ev)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("fleet: job=%s deleted from backlog", jobID)
	s.publish(ctx, ev)
	s.updateBacklogGauge()
	return nil
}

// AddMachine registers a printer. Printing cannot be used as a base status.
func (s *Service) AddMachine(ctx context.Context, m domain.Machine) (out domain.Machine, err error) {
	started := time.Now()
	defer func() { s.observe("add_machine", started, err) }()

	now := s.now()
	m.ID = strings.TrimSpace(m.ID)
	m.Technology = strings.TrimSpace(m.Technology)
	if m.BaseStatus == "" {
		m.BaseStatus = domain.MachineStatusIdle
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	m.CreatedAt = now

	var ev domain.ScheduleEvent
	err = s.store.Update(func(st *schedule.State) error {
		if err := st.AddMachine(m); err != nil {
			return err
		}
		mc := m
		ev = domain.ScheduleEvent{Type: domain.EventMachineAdded, OccurredAt: now, MachineID: m.ID, Machine: &mc}
		st.Record(&ev)
		return nil
	})
	if err != nil {
		return domain.Machine{}, err
	}

	log.Printf("fleet: machine=%s added technology=%s status=%s", m.ID, m.Technology, m.BaseStatus)
	s.publish(ctx, ev)
	return m, nil
}

// SetMachineStatus sets the operator status and returns the freshly derived
// report for the machine.
func (s *Service) SetMachineStatus(ctx context.Context, machineID string, base domain.MachineStatus) (report domain.StatusReport, err error) {
	started := time.Now()
	defer func() { s.observe("set_machine_status", started, err) }()

	now := s.now()
	var ev domain.ScheduleEvent
	err = s.store.Update(func(st *schedule.State) error {
		if err := st.SetBaseStatus(machineID, base); err != nil {
			return err
		}
		ev = domain.ScheduleEvent{Type: domain.EventMachineStatusSet, OccurredAt: now, MachineID: machineID, Status: base}
		st.Record(&ev)
		return nil
	})
	if err != nil {
		return domain.StatusReport{}, err
	}

	log.Printf("fleet: machine=%s base status set to %s", machineID, base)
	s.publish(ctx, ev)
	return s.deriveOne(machineID, now)
}

// Assign commits a whole backlog job after the last job on machineID.
func (s *Service) Assign(ctx context.Context, jobID uuid.UUID, machineID string) (domain.ScheduledJob, error) {
	started := time.Now()
	res, err := s.executor.Assign(jobID, machineID, s.now())
	s.observe("assign", started, err)
	return s.committed(ctx, res, metrics.PlacementAppend, err)
}

// AssignItem commits one item of a multi-item job after the last job on
// machineID.
func (s *Service) AssignItem(ctx context.Context, jobID uuid.UUID, itemIndex int, machineID string) (domain.ScheduledJob, error) {
	started := time.Now()
	res, err := s.executor.AssignItem(jobID, itemIndex, machineID, s.now())
	s.observe("assign_item", started, err)
	return s.committed(ctx, res, metrics.PlacementAppend, err)
}

// AssignAt commits a job or item at an exact start time.
func (s *Service) AssignAt(ctx context.Context, jobID uuid.UUID, itemIndex *int, machineID string, start time.Time) (domain.ScheduledJob, error) {
	started := time.Now()
	res, err := s.executor.AssignAt(jobID, itemIndex, machineID, start, s.now())
	s.observe("assign_at", started, err)
	return s.committed(ctx, res, metrics.PlacementExact, err)
}

// AutoAssign finds the earliest feasible slot and commits the job there in a
// single update, so no other writer can take the slot in between.
func (s *Service) AutoAssign(ctx context.Context, jobID uuid.UUID, itemIndex *int) (domain.ScheduledJob, error) {
	started := time.Now()
	now := s.now()

	var res assignment.Result
	err := s.store.Update(func(st *schedule.State) error {
		job, err := st.Resolve(jobID, itemIndex)
		if err != nil {
			return err
		}
		slot, ok := slotfinder.FindSlot(job, st.Machines, st.Timelines, now)
		if !ok {
			return fmt.Errorf("%w: job %s", domain.ErrInfeasible, jobID)
		}
		sj, err := assignment.Place(st, job, slot.MachineID, slot.Start, now)
		if err != nil {
			return err
		}
		ev := assignment.CommittedEvent(sj, now)
		st.Record(&ev)
		res = assignment.Result{Job: sj, Event: ev}
		return nil
	})
	s.observe("auto_assign", started, err)
	return s.committed(ctx, res, metrics.PlacementAuto, err)
}

func (s *Service) committed(ctx context.Context, res assignment.Result, placement string, err error) (domain.ScheduledJob, error) {
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	sj := res.Job
	log.Printf("fleet: job=%s committed machine=%s start=%s end=%s placement=%s",
		sj.ID, sj.MachineID, sj.Start.Format(time.RFC3339), sj.End.Format(time.RFC3339), placement)
	s.metrics.JobCommitted(sj.MachineID, placement, sj.Duration())
	s.publish(ctx, res.Event)
	s.updateBacklogGauge()
	return sj, nil
}

// ConfirmUpload marks a committed job as confirmed. Repeat confirmations
// succeed without recording anything.
func (s *Service) ConfirmUpload(ctx context.Context, jobID uuid.UUID, machineID string) (domain.ScheduledJob, error) {
	started := time.Now()
	now := s.now()

	sj, ev, err := s.confirm.ConfirmUpload(jobID, machineID, now)
	s.observe("confirm_upload", started, err)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if ev == nil {
		return sj, nil
	}

	log.Printf("fleet: job=%s confirmed machine=%s", jobID, machineID)
	s.metrics.JobConfirmed(machineID, now.Sub(sj.CommittedAt))
	s.publish(ctx, *ev)
	return sj, nil
}

// FindOptimalSlot reports the earliest feasible slot for a backlog job, or
// for one of its items. ok is false when no machine can finish in time.
func (s *Service) FindOptimalSlot(jobID uuid.UUID, itemIndex *int) (slot domain.Slot, ok bool, err error) {
	started := time.Now()
	now := s.now()

	s.store.View(func(st *schedule.State) {
		var job domain.Schedulable
		job, err = st.Resolve(jobID, itemIndex)
		if err != nil {
			return
		}
		slot, ok = slotfinder.FindSlot(job, st.Machines, st.Timelines, now)
	})
	if err == nil {
		s.metrics.SlotSearchCompleted(ok, time.Since(started))
	}
	return slot, ok, err
}

// ApplyProposal commits every placement of an advisor proposal at its exact
// start, or none of them. Statuses are re-derived afterwards.
func (s *Service) ApplyProposal(ctx context.Context, p domain.Proposal) (jobs []domain.ScheduledJob, statuses []domain.StatusReport, err error) {
	started := time.Now()
	defer func() { s.observe("apply_proposal", started, err) }()

	if len(p.Placements) == 0 {
		return nil, nil, fmt.Errorf("%w: proposal %q has no placements", domain.ErrInvalidJob, p.ID)
	}

	now := s.now()
	var events []domain.ScheduleEvent
	err = s.store.Update(func(st *schedule.State) error {
		jobs = jobs[:0]
		events = events[:0]
		for i, pl := range p.Placements {
			job, err := st.Resolve(pl.JobID, pl.ItemIndex)
			if err != nil {
				return fmt.Errorf("placement %d: %w", i, err)
			}
			sj, err := assignment.Place(st, job, pl.MachineID, pl.Start, now)
			if err != nil {
				return fmt.Errorf("placement %d: %w", i, err)
			}
			ev := assignment.CommittedEvent(sj, now)
			st.Record(&ev)
			jobs = append(jobs, sj)
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		log.Printf("fleet: proposal=%s rejected: %v", p.ID, err)
		return nil, nil, err
	}

	log.Printf("fleet: proposal=%s applied placements=%d", p.ID, len(jobs))
	for _, sj := range jobs {
		s.metrics.JobCommitted(sj.MachineID, metrics.PlacementExact, sj.Duration())
	}
	s.publish(ctx, events...)
	s.updateBacklogGauge()

	s.store.View(func(st *schedule.State) {
		statuses = s.deriver.DeriveAll(st, now)
	})
	return jobs, statuses, nil
}

// RequestProposals sends the current schedule and the project to the
// advisor. Proposals are returned for review and are not applied.
func (s *Service) RequestProposals(ctx context.Context, project advisor.NewProject) (resp advisor.Response, err error) {
	started := time.Now()
	defer func() { s.observe("request_proposals", started, err) }()

	if s.advisor == nil {
		return advisor.Response{}, ErrAdvisorDisabled
	}

	now := s.now()
	req := advisor.Request{ID: uuid.NewString(), GeneratedAt: now, Project: project}
	s.store.View(func(st *schedule.State) {
		req.Snapshot = st.Clone()
		req.Statuses = s.deriver.DeriveAll(st, now)
	})
	for _, id := range project.JobIDs {
		found := false
		for _, e := range req.Snapshot.Backlog {
			if e.Job.ID == id {
				found = true
				break
			}
		}
		if !found {
			return advisor.Response{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
	}

	return s.advisor.Propose(ctx, req)
}

// Timelines returns a copy of every machine timeline, keyed by machine id.
func (s *Service) Timelines() map[string][]domain.ScheduledJob {
	out := make(map[string][]domain.ScheduledJob)
	s.store.View(func(st *schedule.State) {
		for _, m := range st.Machines {
			out[m.ID] = append([]domain.ScheduledJob{}, st.Timeline(m.ID)...)
		}
	})
	return out
}

// Backlog returns a copy of the backlog in submission order.
func (s *Service) Backlog() []schedule.BacklogEntry {
	return s.store.Snapshot().Backlog
}

func (s *Service) Machines() []domain.Machine {
	var out []domain.Machine
	s.store.View(func(st *schedule.State) {
		out = append(out, st.Machines...)
	})
	return out
}

// MachineStatuses derives the live status of every machine.
func (s *Service) MachineStatuses() []domain.StatusReport {
	now := s.now()
	var out []domain.StatusReport
	s.store.View(func(st *schedule.State) {
		out = s.deriver.DeriveAll(st, now)
	})
	return out
}

func (s *Service) Snapshot() *schedule.State {
	return s.store.Snapshot()
}

func (s *Service) deriveOne(machineID string, now time.Time) (domain.StatusReport, error) {
	var (
		r  domain.StatusReport
		ok bool
	)
	s.store.View(func(st *schedule.State) {
		var m domain.Machine
		if m, ok = st.Machine(machineID); ok {
			r = s.deriver.DeriveStatus(m, st.Timeline(machineID), now)
		}
	})
	if !ok {
		return domain.StatusReport{}, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, machineID)
	}
	return r, nil
}
