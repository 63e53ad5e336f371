package slotfinder

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/testutil"
)

func clock(h, m int) time.Time {
	return time.Date(2024, 1, 15, h, m, 0, 0, time.UTC)
}

func original(tech string, d time.Duration, deadline time.Time) domain.Schedulable {
	return domain.OriginalJob{Job: testutil.Job("part", tech, d, deadline)}
}

func TestFindSlot_EmptyTimelineStartsNow(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}

	slot, ok := FindSlot(original("FDM", 120*time.Minute, now.Add(24*time.Hour)), machines, nil, now)

	require.True(t, ok)
	assert.Equal(t, "p1", slot.MachineID)
	assert.True(t, slot.Start.Equal(now))
	assert.True(t, slot.End.Equal(now.Add(2*time.Hour)))
}

func TestFindSlot_GapBeforeFirstTooShort(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}
	timelines := map[string][]domain.ScheduledJob{
		"p1": {testutil.Scheduled("p1", clock(10, 0), 2*time.Hour, false)},
	}

	slot, ok := FindSlot(original("FDM", 90*time.Minute, now.Add(24*time.Hour)), machines, timelines, now)

	require.True(t, ok)
	assert.True(t, slot.Start.Equal(clock(12, 0)), "start = %s", slot.Start)
	assert.True(t, slot.End.Equal(clock(13, 30)))
}

func TestFindSlot_GapBeforeFirstLongEnough(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}
	timelines := map[string][]domain.ScheduledJob{
		"p1": {testutil.Scheduled("p1", clock(10, 0), 2*time.Hour, false)},
	}

	cands := Candidates(original("FDM", time.Hour, now.Add(24*time.Hour)), machines[0], timelines["p1"], now)
	require.Len(t, cands, 2)
	assert.Equal(t, CategoryBeforeFirst, cands[0].Category)
	assert.Equal(t, CategoryAfterLast, cands[1].Category)

	slot, ok := FindSlot(original("FDM", time.Hour, now.Add(24*time.Hour)), machines, timelines, now)
	require.True(t, ok)
	assert.True(t, slot.Start.Equal(now))
}

func TestFindSlot_UsesGapBetweenJobs(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}
	timelines := map[string][]domain.ScheduledJob{
		"p1": {
			testutil.Scheduled("p1", clock(9, 0), time.Hour, true),
			testutil.Scheduled("p1", clock(12, 0), time.Hour, false),
		},
	}

	slot, ok := FindSlot(original("FDM", 2*time.Hour, now.Add(24*time.Hour)), machines, timelines, now)

	require.True(t, ok)
	assert.True(t, slot.Start.Equal(clock(10, 0)))
	assert.True(t, slot.End.Equal(clock(12, 0)), "gap that exactly fits is usable")
}

func TestFindSlot_GapStartClampedToNow(t *testing.T) {
	now := clock(10, 30)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}
	timelines := map[string][]domain.ScheduledJob{
		"p1": {
			testutil.Scheduled("p1", clock(8, 0), 2*time.Hour, true),
			testutil.Scheduled("p1", clock(12, 0), time.Hour, false),
		},
	}

	cands := Candidates(original("FDM", time.Hour, now.Add(24*time.Hour)), machines[0], timelines["p1"], now)
	require.NotEmpty(t, cands)
	assert.Equal(t, CategoryGap, cands[0].Category)
	assert.True(t, cands[0].Slot.Start.Equal(now))

	// a 2h job no longer fits in what remains of the gap
	cands = Candidates(original("FDM", 2*time.Hour, now.Add(24*time.Hour)), machines[0], timelines["p1"], now)
	require.Len(t, cands, 1)
	assert.Equal(t, CategoryAfterLast, cands[0].Category)
	assert.True(t, cands[0].Slot.Start.Equal(clock(13, 0)))
}

func TestFindSlot_TechnologyIsHardFilter(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM"), testutil.Machine("p2", "FDM")}

	_, ok := FindSlot(original("SLA", time.Hour, now.Add(30*24*time.Hour)), machines, nil, now)

	assert.False(t, ok)
}

func TestFindSlot_DeadlineTooClose(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM"), testutil.Machine("p2", "FDM")}

	_, ok := FindSlot(original("FDM", 3*time.Hour, now.Add(2*time.Hour)), machines, nil, now)
	assert.False(t, ok)
}

func TestFindSlot_EndMustBeStrictlyBeforeDeadline(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}

	_, ok := FindSlot(original("FDM", time.Hour, clock(10, 0)), machines, nil, now)
	assert.False(t, ok, "ending exactly at the deadline is infeasible")

	_, ok = FindSlot(original("FDM", time.Hour, clock(10, 1)), machines, nil, now)
	assert.True(t, ok)
}

func TestFindSlot_PicksEarliestEndAcrossMachines(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{
		testutil.Machine("busy", "FDM"),
		testutil.Machine("free-later", "FDM"),
		testutil.Machine("resin", "SLA"),
	}
	timelines := map[string][]domain.ScheduledJob{
		"busy":       {testutil.Scheduled("busy", clock(9, 0), 5*time.Hour, true)},
		"free-later": {testutil.Scheduled("free-later", clock(9, 0), 2*time.Hour, true)},
	}

	slot, ok := FindSlot(original("FDM", time.Hour, now.Add(24*time.Hour)), machines, timelines, now)

	require.True(t, ok)
	assert.Equal(t, "free-later", slot.MachineID)
	assert.True(t, slot.Start.Equal(clock(11, 0)))
}

func TestFindSlot_TieGoesToFirstMachine(t *testing.T) {
	now := clock(9, 0)
	machines := []domain.Machine{testutil.Machine("a", "FDM"), testutil.Machine("b", "FDM")}

	for i := 0; i < 10; i++ {
		slot, ok := FindSlot(original("FDM", time.Hour, now.Add(24*time.Hour)), machines, nil, now)
		require.True(t, ok)
		assert.Equal(t, "a", slot.MachineID)
	}
}

func TestFindSlot_SubItemUsesSplitDuration(t *testing.T) {
	now := clock(9, 0)
	parent := testutil.Job("set", "FDM", 4*time.Hour, now.Add(24*time.Hour))
	parent.Items = 4
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}
	timelines := map[string][]domain.ScheduledJob{
		"p1": {testutil.Scheduled("p1", clock(10, 0), time.Hour, false)},
	}

	slot, ok := FindSlot(domain.SubItemJob{Parent: parent, Index: 0}, machines, timelines, now)

	require.True(t, ok)
	assert.True(t, slot.Start.Equal(now), "a one-hour item fits before the first job")
}

func TestFindSlot_ZeroLengthItemHasNoSlot(t *testing.T) {
	now := clock(9, 0)
	parent := testutil.Job("pins", "FDM", 3*time.Nanosecond, now.Add(24*time.Hour))
	parent.Items = 4
	machines := []domain.Machine{testutil.Machine("p1", "FDM")}

	_, ok := FindSlot(domain.SubItemJob{Parent: parent, Index: 0}, machines, nil, now)

	assert.False(t, ok)
}

// TestFindSlot_ResultNeverOverlaps checks feasibility on random timelines:
// any returned slot must avoid every committed interval and meet the deadline.
func TestFindSlot_ResultNeverOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := clock(9, 0)

	for iter := 0; iter < 200; iter++ {
		machines := []domain.Machine{testutil.Machine("a", "FDM"), testutil.Machine("b", "FDM")}
		timelines := map[string][]domain.ScheduledJob{}
		for _, m := range machines {
			cursor := now.Add(-time.Duration(rng.Intn(180)) * time.Minute)
			for n := rng.Intn(6); n > 0; n-- {
				cursor = cursor.Add(time.Duration(rng.Intn(120)) * time.Minute)
				d := time.Duration(15+rng.Intn(240)) * time.Minute
				timelines[m.ID] = append(timelines[m.ID], testutil.Scheduled(m.ID, cursor, d, rng.Intn(2) == 0))
				cursor = cursor.Add(d)
			}
		}

		d := time.Duration(15+rng.Intn(300)) * time.Minute
		deadline := now.Add(time.Duration(rng.Intn(24*60)) * time.Minute)
		job := original("FDM", d, deadline)

		slot, ok := FindSlot(job, machines, timelines, now)
		if !ok {
			continue
		}
		assert.False(t, slot.Start.Before(now))
		assert.True(t, slot.End.Before(deadline))
		assert.Equal(t, d, slot.End.Sub(slot.Start))
		for _, existing := range timelines[slot.MachineID] {
			assert.False(t, existing.Interval().Overlaps(domain.ScheduledJob{Start: slot.Start, End: slot.End}.Interval()),
				"iteration %d: slot [%s,%s) overlaps %s", iter, slot.Start, slot.End, existing.Start)
		}
	}
}
