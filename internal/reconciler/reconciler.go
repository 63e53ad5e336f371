// Package reconciler periodically re-derives live machine statuses and flags
// committed jobs whose upload was never confirmed.
//
// Statuses are derived on demand by the API as well; the periodic pass is what
// advances idle-since bookkeeping and metrics for machines nobody is looking at.
// A pending job is stale once its start is older than the grace period and it
// still has no confirmation.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/printfleet/internal/confirmation"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
)

// Source provides point-in-time schedule snapshots.
type Source interface {
	Snapshot() *schedule.State
}

// Deriver computes live statuses for every machine in a snapshot.
type Deriver interface {
	DeriveAll(st *schedule.State, now time.Time) []domain.StatusReport
}

// MetricsSink defines the interface for recording reconciler metrics.
type MetricsSink interface {
	MachineStatusUpdate(counts map[string]int)
	StalePendingUpdate(n int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often statuses are refreshed.
	// Default: 30 seconds.
	Interval time.Duration

	// PendingGrace is how long after its start a job may remain unconfirmed
	// before it is reported as stale.
	// Default: 15 minutes.
	PendingGrace time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		PendingGrace: 15 * time.Minute,
	}
}

// CycleResult summarises one refresh pass.
type CycleResult struct {
	Statuses     []domain.StatusReport
	Counts       map[string]int
	StalePending []domain.ScheduledJob
}

type Reconciler struct {
	config  Config
	source  Source
	deriver Deriver
	clock   func() time.Time
	metrics MetricsSink

	last map[string]domain.MachineStatus
}

// New creates a new Reconciler.
func New(config Config, source Source, deriver Deriver) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.PendingGrace < 0 {
		config.PendingGrace = 0
	}
	return &Reconciler{
		config:  config,
		source:  source,
		deriver: deriver,
		clock:   time.Now,
		last:    make(map[string]domain.MachineStatus),
	}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the refresh loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, pending_grace=%s)",
		r.config.Interval, r.config.PendingGrace)

	r.RunCycle()

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle()
		}
	}
}

// RunCycle executes one refresh pass. Not safe for concurrent use; Run calls
// it from a single goroutine.
func (r *Reconciler) RunCycle() CycleResult {
	now := r.clock().UTC()
	st := r.source.Snapshot()

	statuses := r.deriver.DeriveAll(st, now)
	counts := map[string]int{
		string(domain.MachineStatusIdle):        0,
		string(domain.MachineStatusPrinting):    0,
		string(domain.MachineStatusMaintenance): 0,
		string(domain.MachineStatusOffline):     0,
	}
	for _, rep := range statuses {
		counts[string(rep.Status)]++

		prev, seen := r.last[rep.MachineID]
		if seen && prev != rep.Status {
			log.Printf("reconciler: machine=%s status %s -> %s", rep.MachineID, prev, rep.Status)
		}
		r.last[rep.MachineID] = rep.Status
	}

	stale := confirmation.Pending(st, now.Add(-r.config.PendingGrace))
	for _, sj := range stale {
		log.Printf("reconciler: unconfirmed job=%s machine=%s start=%s (overdue=%s)",
			sj.ID, sj.MachineID, sj.Start.Format(time.RFC3339), now.Sub(sj.Start).Round(time.Second))
	}

	if r.metrics != nil {
		r.metrics.MachineStatusUpdate(counts)
		r.metrics.StalePendingUpdate(len(stale))
	}

	return CycleResult{Statuses: statuses, Counts: counts, StalePending: stale}
}
