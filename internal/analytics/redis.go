// Package analytics keeps rolling per-machine counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/printfleet/internal/domain"
)

// DefaultRetention is how long a counter bucket survives after its last write.
const DefaultRetention = 7 * 24 * time.Hour

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	window    time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		window:    time.Hour,
	}
}

func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// WithWindow sets the bucket width. Supported widths are one minute, five
// minutes and one hour; anything else buckets per minute.
func (s *RedisSink) WithWindow(d time.Duration) *RedisSink {
	s.window = d
	return s
}

// Record implements dispatcher.AnalyticsSink. Failures are logged and dropped.
func (s *RedisSink) Record(ctx context.Context, event domain.ScheduleEvent) {
	if err := s.Write(ctx, event); err != nil {
		log.Printf("analytics: revision=%d type=%s: %v", event.Revision, event.Type, err)
	}
}

// Write applies the counter increments for one event in a single pipeline.
func (s *RedisSink) Write(ctx context.Context, event domain.ScheduleEvent) error {
	incs := increments(event, s.window)
	if len(incs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, inc := range incs {
		pipe.IncrBy(ctx, inc.key, inc.by)
		pipe.Expire(ctx, inc.key, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// CommittedMinutes returns the minutes committed to a machine in the bucket
// containing t.
func (s *RedisSink) CommittedMinutes(ctx context.Context, machineID string, t time.Time) (int64, error) {
	n, err := s.client.Get(ctx, machineKey(machineID, "committed_minutes", t, s.window)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

type increment struct {
	key string
	by  int64
}

func increments(event domain.ScheduleEvent, window time.Duration) []increment {
	switch event.Type {
	case domain.EventJobSubmitted:
		return []increment{{key: fleetKey("submitted", event.OccurredAt, window), by: 1}}

	case domain.EventJobCommitted:
		if event.Scheduled == nil {
			return nil
		}
		sj := event.Scheduled
		return []increment{
			{key: machineKey(sj.MachineID, "commits", sj.Start, window), by: 1},
			{key: machineKey(sj.MachineID, "committed_minutes", sj.Start, window), by: int64(sj.End.Sub(sj.Start) / time.Minute)},
		}

	case domain.EventJobConfirmed:
		return []increment{{key: machineKey(event.MachineID, "confirmations", event.OccurredAt, window), by: 1}}

	case domain.EventMachineStatusSet:
		return []increment{{key: machineKey(event.MachineID, "status:"+string(event.Status), event.OccurredAt, window), by: 1}}
	}
	return nil
}

func machineKey(machineID, metric string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("pf:m:%s:%s:%s", machineID, metric, truncateToBucket(t, window))
}

func fleetKey(metric string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("pf:fleet:%s:%s", metric, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
