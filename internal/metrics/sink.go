package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Fleet operations
	OperationCompleted(op string, duration time.Duration, err error)
	JobCommitted(machineID string, placement string, duration time.Duration)
	JobConfirmed(machineID string, pendingFor time.Duration)
	SlotSearchCompleted(found bool, duration time.Duration)
	BacklogSizeUpdate(jobs int)

	// Status refresh
	MachineStatusUpdate(counts map[string]int)
	StalePendingUpdate(count int)

	// Journal dispatcher
	JournalAppendCompleted(attempt int, duration time.Duration, err error)
	JournalOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Checkpointer
	TickStarted()
	TickDrift(drift time.Duration)
	CheckpointCompleted(duration time.Duration, revision uint64, err error)

	// Advisor client
	AdvisorAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	AdvisorOutcome(outcome string)

	// Journal ownership
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for JournalOutcome and AdvisorOutcome.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
)

// Placement labels for JobCommitted.
const (
	PlacementAppend = "append"
	PlacementExact  = "exact"
	PlacementAuto   = "auto"
)

// StatusClass constants for AdvisorAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
