package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Fleet metrics
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	jobsCommittedTotal *prometheus.CounterVec
	committedMinutes   *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	pendingDuration    prometheus.Histogram
	slotSearchesTotal  *prometheus.CounterVec
	slotSearchDuration prometheus.Histogram
	backlogSize        prometheus.Gauge

	// Status metrics
	machinesByStatus *prometheus.GaugeVec
	stalePending     prometheus.Gauge

	// Journal metrics
	journalAppendsTotal   *prometheus.CounterVec
	journalAppendDuration prometheus.Histogram
	journalOutcomesTotal  *prometheus.CounterVec
	retryAttemptsTotal    *prometheus.CounterVec
	eventsInFlight        prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Checkpoint metrics
	ticksTotal         prometheus.Counter
	tickDrift          prometheus.Histogram
	checkpointsTotal   *prometheus.CounterVec
	checkpointDuration prometheus.Histogram
	checkpointRevision prometheus.Gauge

	// Advisor metrics
	advisorAttemptsTotal *prometheus.CounterVec
	advisorDuration      prometheus.Histogram
	advisorOutcomesTotal *prometheus.CounterVec

	// Journal ownership metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initFleetMetrics(reg)
	s.initStatusMetrics(reg)
	s.initJournalMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initCheckpointMetrics(reg)
	s.initAdvisorMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initFleetMetrics(reg prometheus.Registerer) {
	s.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_operations_total",
		Help: "Total number of fleet operations by name and result.",
	}, []string{"op", "result"})
	s.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "printfleet_operation_duration_seconds",
		Help:    "Duration of fleet operations in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})
	s.jobsCommittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_jobs_committed_total",
		Help: "Total number of jobs committed to machine timelines.",
	}, []string{"machine", "placement"})
	s.committedMinutes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_committed_minutes_total",
		Help: "Total print minutes committed per machine.",
	}, []string{"machine"})
	s.confirmationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_confirmations_total",
		Help: "Total number of upload confirmations per machine.",
	}, []string{"machine"})
	s.pendingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_confirmation_pending_seconds",
		Help:    "Time between commit and upload confirmation in seconds.",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 43200},
	})
	s.slotSearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_slot_searches_total",
		Help: "Total number of slot searches by result.",
	}, []string{"found"})
	s.slotSearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_slot_search_duration_seconds",
		Help:    "Duration of slot searches in seconds.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})
	s.backlogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_backlog_jobs",
		Help: "Current number of jobs in the backlog.",
	})

	s.register(reg, s.operationsTotal, "printfleet_operations_total")
	s.register(reg, s.operationDuration, "printfleet_operation_duration_seconds")
	s.register(reg, s.jobsCommittedTotal, "printfleet_jobs_committed_total")
	s.register(reg, s.committedMinutes, "printfleet_committed_minutes_total")
	s.register(reg, s.confirmationsTotal, "printfleet_confirmations_total")
	s.register(reg, s.pendingDuration, "printfleet_confirmation_pending_seconds")
	s.register(reg, s.slotSearchesTotal, "printfleet_slot_searches_total")
	s.register(reg, s.slotSearchDuration, "printfleet_slot_search_duration_seconds")
	s.register(reg, s.backlogSize, "printfleet_backlog_jobs")
}

func (s *PrometheusSink) initStatusMetrics(reg prometheus.Registerer) {
	s.machinesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "printfleet_machines",
		Help: "Current number of machines per derived status.",
	}, []string{"status"})
	s.stalePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_stale_pending_jobs",
		Help: "Jobs past their start plus grace period that are still awaiting upload confirmation.",
	})

	s.register(reg, s.machinesByStatus, "printfleet_machines")
	s.register(reg, s.stalePending, "printfleet_stale_pending_jobs")
}

func (s *PrometheusSink) initJournalMetrics(reg prometheus.Registerer) {
	s.journalAppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_journal_append_attempts_total",
		Help: "Total number of journal append attempts.",
	}, []string{"attempt", "result"})
	s.journalAppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_journal_append_duration_seconds",
		Help:    "Journal append latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.journalOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_journal_outcomes_total",
		Help: "Total number of final journal outcomes per event.",
	}, []string{"outcome"})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_journal_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_journal_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.register(reg, s.journalAppendsTotal, "printfleet_journal_append_attempts_total")
	s.register(reg, s.journalAppendDuration, "printfleet_journal_append_duration_seconds")
	s.register(reg, s.journalOutcomesTotal, "printfleet_journal_outcomes_total")
	s.register(reg, s.retryAttemptsTotal, "printfleet_journal_retry_attempts_total")
	s.register(reg, s.eventsInFlight, "printfleet_journal_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_eventbus_buffer_saturation",
		Help: "Fraction of the event bus buffer in use.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printfleet_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "printfleet_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "printfleet_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "printfleet_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "printfleet_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initCheckpointMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printfleet_checkpoint_ticks_total",
		Help: "Total number of checkpointer ticks processed.",
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_checkpoint_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.checkpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_checkpoints_total",
		Help: "Total number of checkpoint attempts by result.",
	}, []string{"result"})
	s.checkpointDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_checkpoint_duration_seconds",
		Help:    "Duration of checkpoint writes in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.checkpointRevision = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_checkpoint_revision",
		Help: "Schedule revision of the latest successful checkpoint.",
	})

	s.register(reg, s.ticksTotal, "printfleet_checkpoint_ticks_total")
	s.register(reg, s.tickDrift, "printfleet_checkpoint_tick_drift_seconds")
	s.register(reg, s.checkpointsTotal, "printfleet_checkpoints_total")
	s.register(reg, s.checkpointDuration, "printfleet_checkpoint_duration_seconds")
	s.register(reg, s.checkpointRevision, "printfleet_checkpoint_revision")
}

func (s *PrometheusSink) initAdvisorMetrics(reg prometheus.Registerer) {
	s.advisorAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_advisor_attempts_total",
		Help: "Total number of advisor request attempts.",
	}, []string{"attempt", "status_class"})
	s.advisorDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "printfleet_advisor_duration_seconds",
		Help:    "Advisor request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.advisorOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_advisor_outcomes_total",
		Help: "Total number of final advisor request outcomes.",
	}, []string{"outcome"})

	s.register(reg, s.advisorAttemptsTotal, "printfleet_advisor_attempts_total")
	s.register(reg, s.advisorDuration, "printfleet_advisor_duration_seconds")
	s.register(reg, s.advisorOutcomesTotal, "printfleet_advisor_outcomes_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printfleet_leader",
		Help: "1 while this instance owns the schedule journal, 0 on standby.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printfleet_leader_acquired_total",
		Help: "Total number of times journal ownership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printfleet_leader_lost_total",
		Help: "Total number of times journal ownership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "printfleet_leader")
	s.register(reg, s.leaderAcquiredTotal, "printfleet_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "printfleet_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Fleet metrics implementation

func (s *PrometheusSink) OperationCompleted(op string, duration time.Duration, err error) {
	s.operationsTotal.WithLabelValues(op, result(err)).Inc()
	s.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (s *PrometheusSink) JobCommitted(machineID string, placement string, duration time.Duration) {
	s.jobsCommittedTotal.WithLabelValues(machineID, placement).Inc()
	s.committedMinutes.WithLabelValues(machineID).Add(duration.Minutes())
}

func (s *PrometheusSink) JobConfirmed(machineID string, pendingFor time.Duration) {
	s.confirmationsTotal.WithLabelValues(machineID).Inc()
	if pendingFor > 0 {
		s.pendingDuration.Observe(pendingFor.Seconds())
	}
}

func (s *PrometheusSink) SlotSearchCompleted(found bool, duration time.Duration) {
	s.slotSearchesTotal.WithLabelValues(strconv.FormatBool(found)).Inc()
	s.slotSearchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) BacklogSizeUpdate(jobs int) {
	s.backlogSize.Set(float64(jobs))
}

// Status metrics implementation

func (s *PrometheusSink) MachineStatusUpdate(counts map[string]int) {
	s.machinesByStatus.Reset()
	for status, n := range counts {
		s.machinesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (s *PrometheusSink) StalePendingUpdate(count int) {
	s.stalePending.Set(float64(count))
}

// Journal metrics implementation

func (s *PrometheusSink) JournalAppendCompleted(attempt int, duration time.Duration, err error) {
	s.journalAppendsTotal.WithLabelValues(strconv.Itoa(attempt), result(err)).Inc()
	s.journalAppendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JournalOutcome(outcome string) {
	s.journalOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Checkpoint metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) CheckpointCompleted(duration time.Duration, revision uint64, err error) {
	s.checkpointsTotal.WithLabelValues(result(err)).Inc()
	s.checkpointDuration.Observe(duration.Seconds())
	if err == nil {
		s.checkpointRevision.Set(float64(revision))
	}
}

// Advisor metrics implementation

func (s *PrometheusSink) AdvisorAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.advisorAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.advisorDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) AdvisorOutcome(outcome string) {
	s.advisorOutcomesTotal.WithLabelValues(outcome).Inc()
}

// Journal ownership metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
	} else {
		s.isLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
