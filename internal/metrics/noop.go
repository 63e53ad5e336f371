package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) OperationCompleted(op string, d time.Duration, err error)           {}
func (n *NoopSink) JobCommitted(machineID, placement string, d time.Duration)          {}
func (n *NoopSink) JobConfirmed(machineID string, pendingFor time.Duration)            {}
func (n *NoopSink) SlotSearchCompleted(found bool, d time.Duration)                    {}
func (n *NoopSink) BacklogSizeUpdate(jobs int)                                         {}
func (n *NoopSink) MachineStatusUpdate(counts map[string]int)                          {}
func (n *NoopSink) StalePendingUpdate(count int)                                       {}
func (n *NoopSink) JournalAppendCompleted(attempt int, d time.Duration, err error)     {}
func (n *NoopSink) JournalOutcome(outcome string)                                      {}
func (n *NoopSink) RetryAttempt(retryable bool)                                        {}
func (n *NoopSink) EventsInFlightIncr()                                                {}
func (n *NoopSink) EventsInFlightDecr()                                                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                     {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickDrift(drift time.Duration)                                      {}
func (n *NoopSink) CheckpointCompleted(d time.Duration, revision uint64, err error)    {}
func (n *NoopSink) AdvisorAttemptCompleted(attempt int, class string, d time.Duration) {}
func (n *NoopSink) AdvisorOutcome(outcome string)                                      {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderAcquired()                                                    {}
func (n *NoopSink) LeaderLost(reason string)                                           {}
