// Package status derives each machine's live operational state from the
// confirmed schedule and the current time. Printing is never stored; it is
// recomputed on every read.
package status

import (
	"sync"
	"time"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Active returns the confirmed job whose interval contains now. Pending jobs
// are never considered running.
func Active(timeline []domain.ScheduledJob, now time.Time) (domain.ScheduledJob, bool) {
	for _, j := range timeline {
		if j.Start.After(now) {
			break
		}
		if j.Confirmed && j.Interval().Contains(now) {
			return j, true
		}
	}
	return domain.ScheduledJob{}, false
}

// Memory is what derivation carries from one read of a machine to the next.
// IdleSince is kept whatever status is shown, so an operator moving a machine
// through maintenance and back to idle does not lose it.
type Memory struct {
	Printing  bool
	IdleSince *time.Time
}

// Derive computes a machine's report and advances mem. A nil mem derives
// from scratch. IdleSince is stamped once on the printing to idle edge and
// only shown while the machine reports idle.
func Derive(m domain.Machine, timeline []domain.ScheduledJob, mem *Memory, now time.Time) domain.StatusReport {
	if mem == nil {
		mem = &Memory{}
	}
	r := domain.StatusReport{
		MachineID:  m.ID,
		BaseStatus: m.BaseStatus,
	}

	if j, ok := Active(timeline, now); ok {
		end := j.End
		r.Status = domain.MachineStatusPrinting
		r.CurrentJob = &domain.CurrentJob{
			ID:       j.ID.String(),
			Name:     j.Name,
			Progress: j.Interval().Progress(now),
		}
		r.CompletionEstimate = &end
		*mem = Memory{Printing: true}
		return r
	}

	if mem.Printing {
		at := now
		*mem = Memory{IdleSince: &at}
	}

	if m.BaseStatus.IsManual() {
		r.Status = m.BaseStatus
		return r
	}
	r.Status = domain.MachineStatusIdle
	if mem.IdleSince != nil {
		at := *mem.IdleSince
		r.IdleSince = &at
	}
	return r
}

// Deriver remembers the last report per machine so that repeated reads do not
// move IdleSince.
type Deriver struct {
	mu     sync.Mutex
	last   map[string]domain.StatusReport
	memory map[string]Memory
}

func New() *Deriver {
	return &Deriver{
		last:   make(map[string]domain.StatusReport),
		memory: make(map[string]Memory),
	}
}

// DeriveStatus derives and remembers the report for one machine.
func (d *Deriver) DeriveStatus(m domain.Machine, timeline []domain.ScheduledJob, now time.Time) domain.StatusReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deriveLocked(m, timeline, now)
}

// DeriveAll derives reports for every machine in st, in machine order. The
// caller holds st stable for the duration of the call.
func (d *Deriver) DeriveAll(st *schedule.State, now time.Time) []domain.StatusReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.StatusReport, 0, len(st.Machines))
	for _, m := range st.Machines {
		out = append(out, d.deriveLocked(m, st.Timeline(m.ID), now))
	}
	return out
}

// Last returns the most recently derived report for a machine.
func (d *Deriver) Last(machineID string) (domain.StatusReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.last[machineID]
	return r, ok
}

func (d *Deriver) deriveLocked(m domain.Machine, timeline []domain.ScheduledJob, now time.Time) domain.StatusReport {
	mem := d.memory[m.ID]
	r := Derive(m, timeline, &mem, now)
	d.memory[m.ID] = mem
	d.last[m.ID] = r
	return r
}
