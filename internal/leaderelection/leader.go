// Package leaderelection makes a single printfleet instance the owner of the
// schedule journal. Standby instances wait on the same Postgres advisory lock
// and take over, recovering from the latest checkpoint, once the owner's
// session ends.
//
// The lock is session-scoped and held on a dedicated connection; there is no
// renewal or TTL. If the connection dies, Postgres releases the lock
// server-side. The heartbeat ping only detects local connection death so the
// owner can step down promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Reasons reported when ownership ends.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

type Config struct {
	// LockKey must be shared by every instance using the same database.
	LockKey int64

	// RetryInterval is how often a standby retries the lock. It bounds the
	// failover gap.
	// Default: 5 seconds.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the owner pings its lock connection.
	// Default: 2 seconds.
	HeartbeatInterval time.Duration
}

// Elector manages journal ownership using a Postgres advisory lock.
type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func(reason string)
	metrics   MetricsSink // optional, nil = disabled
}

// New creates a new Elector.
//
// onElected runs in a new goroutine once the lock is acquired. Its context is
// cancelled when ownership ends.
//
// onDemoted runs synchronously when ownership ends, with the reason. It must
// be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func(reason string)) *Elector {
	if config.RetryInterval <= 0 {
		config.RetryInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Second
	}
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run competes for the lock until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (lock_key=%d, retry=%s, heartbeat=%s)",
		e.config.LockKey, e.config.RetryInterval, e.config.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost journal ownership (reason=%s), will retry in %s", reason, e.config.RetryInterval)
		}

		timer := time.NewTimer(e.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("leader: election loop stopped")
			return
		case <-timer.C:
		}
	}
}

// runOnce tries the lock once and, if acquired, holds it until ctx ends or the
// connection is lost. It returns "" when the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: failed to acquire dedicated connection: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		log.Printf("leader: journal owned by another instance (lock_key=%d), standing by", e.config.LockKey)
		return ""
	}

	log.Printf("leader: acquired journal ownership (lock_key=%d)", e.config.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted(reason)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released journal ownership (lock_key=%d)", e.config.LockKey)
	return reason
}

func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Printf("leader: lock connection ping failed: %v", err)
				return ReasonConnLost
			}
		}
	}
}
