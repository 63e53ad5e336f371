// Package slotfinder proposes the earliest-finishing feasible slot for a job
// across a fleet of machines. It is a pure query over a schedule snapshot.
//
// Per compatible machine, three kinds of candidate start are considered:
// before the first committed job, inside any gap between consecutive jobs,
// and after the last job. A candidate is valid only if it ends strictly
// before the job deadline. The globally earliest end wins; ties go to the
// machine that comes first in iteration order.
package slotfinder

import (
	"time"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/interval"
)

type Category string

const (
	CategoryBeforeFirst Category = "before_first"
	CategoryGap         Category = "gap"
	CategoryAfterLast   Category = "after_last"
)

// Candidate is a feasible start on one machine.
type Candidate struct {
	Slot     domain.Slot
	Category Category
}

// FindSlot returns the feasible slot with the earliest end time, or false if
// no compatible machine can finish the job before its deadline.
func FindSlot(job domain.Schedulable, machines []domain.Machine, timelines map[string][]domain.ScheduledJob, now time.Time) (domain.Slot, bool) {
	var best domain.Slot
	found := false

	for _, m := range machines {
		for _, c := range Candidates(job, m, timelines[m.ID], now) {
			if !found || c.Slot.End.Before(best.End) {
				best = c.Slot
				found = true
			}
		}
	}
	return best, found
}

// Candidates lists every deadline-satisfying candidate on a single machine,
// in timeline order. Incompatible machines yield none.
func Candidates(job domain.Schedulable, m domain.Machine, timeline []domain.ScheduledJob, now time.Time) []Candidate {
	if !m.Supports(job.Technology()) {
		return nil
	}

	d := job.Duration()
	if d <= 0 {
		return nil
	}
	deadline := job.Deadline()
	var out []Candidate

	add := func(start time.Time, cat Category) {
		end := start.Add(d)
		if !interval.EndsBefore(end, deadline) {
			return
		}
		out = append(out, Candidate{
			Slot:     domain.Slot{MachineID: m.ID, Start: start, End: end},
			Category: cat,
		})
	}

	if len(timeline) == 0 {
		add(now, CategoryAfterLast)
		return out
	}

	before := interval.Interval{Start: now, End: timeline[0].Start}
	if before.Fits(now, d) {
		add(now, CategoryBeforeFirst)
	}

	for i := 0; i+1 < len(timeline); i++ {
		start := interval.Later(now, timeline[i].End)
		gap := interval.Interval{Start: start, End: timeline[i+1].Start}
		if start.Before(gap.End) && gap.Fits(start, d) {
			add(start, CategoryGap)
		}
	}

	add(interval.Later(now, timeline[len(timeline)-1].End), CategoryAfterLast)
	return out
}
