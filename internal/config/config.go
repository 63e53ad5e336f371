package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the printfleet service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	// DatabaseURL enables the event journal and checkpoints. Empty runs the
	// schedule purely in memory.
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// FleetFile is an optional YAML file of machines registered at startup.
	FleetFile string `json:"fleet_file,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	StatusRefreshInterval    time.Duration `json:"-"`
	StatusRefreshIntervalStr string        `json:"status_refresh_interval"`

	// PendingGrace is how long a committed job may stay unconfirmed past its
	// start before it is reported as stale.
	PendingGrace    time.Duration `json:"-"`
	PendingGraceStr string        `json:"pending_grace"`

	// CheckpointSchedule is a cron expression or descriptor (@every 5m).
	CheckpointSchedule string        `json:"checkpoint_schedule"`
	CheckpointTimezone string        `json:"checkpoint_timezone"`
	CheckpointTick     time.Duration `json:"-"`
	CheckpointTickStr  string        `json:"checkpoint_tick"`

	AdvisorURL         string        `json:"advisor_url,omitempty"`
	AdvisorSecret      string        `json:"advisor_secret,omitempty"`
	AdvisorTimeout     time.Duration `json:"-"`
	AdvisorTimeoutStr  string        `json:"advisor_timeout"`
	AdvisorMaxAttempts int           `json:"advisor_max_attempts"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval bounds how long a standby waits before taking over.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval pings the lock connection to notice its loss.
	// It does not renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

const DefaultLeaderLockKey int64 = 738140

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		FleetFile:          os.Getenv("FLEET_FILE"),
		MetricsEnabled:     os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:        os.Getenv("METRICS_PATH"),
		MetricsPort:        os.Getenv("METRICS_PORT"),
		CheckpointSchedule: os.Getenv("CHECKPOINT_SCHEDULE"),
		CheckpointTimezone: os.Getenv("CHECKPOINT_TIMEZONE"),
		AdvisorURL:         os.Getenv("ADVISOR_URL"),
		AdvisorSecret:      os.Getenv("ADVISOR_SECRET"),
	}

	cfg.EventBusBufferSize = envPositiveInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.DBMaxOpenConns = envPositiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envPositiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.AdvisorMaxAttempts = envPositiveInt("ADVISOR_MAX_ATTEMPTS", 4)

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default %d", lockKeyStr, DefaultLeaderLockKey)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = DefaultLeaderLockKey
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.CheckpointSchedule == "" {
		cfg.CheckpointSchedule = "*/5 * * * *"
	}
	if cfg.CheckpointTimezone == "" {
		cfg.CheckpointTimezone = "UTC"
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.DBOpTimeoutStr, cfg.DBOpTimeout = envDuration("DB_OP_TIMEOUT", "5s")
	cfg.DBConnMaxLifetimeStr, cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", "30m")
	cfg.DBConnMaxIdleTimeStr, cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", "5m")
	cfg.HTTPShutdownTimeoutStr, cfg.HTTPShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", "10s")
	cfg.DispatcherDrainTimeoutStr, cfg.DispatcherDrainTimeout = envDuration("DISPATCHER_DRAIN_TIMEOUT", "30s")
	cfg.StatusRefreshIntervalStr, cfg.StatusRefreshInterval = envDuration("STATUS_REFRESH_INTERVAL", "30s")
	cfg.PendingGraceStr, cfg.PendingGrace = envDuration("PENDING_GRACE", "15m")
	cfg.CheckpointTickStr, cfg.CheckpointTick = envDuration("CHECKPOINT_TICK", "30s")
	cfg.AdvisorTimeoutStr, cfg.AdvisorTimeout = envDuration("ADVISOR_TIMEOUT", "30s")
	cfg.CircuitBreakerCooldownStr, cfg.CircuitBreakerCooldown = envDuration("CIRCUIT_BREAKER_COOLDOWN", "2m")
	cfg.AnalyticsRetentionStr, cfg.AnalyticsRetention = envDuration("ANALYTICS_RETENTION", "168h")
	cfg.LeaderRetryIntervalStr, cfg.LeaderRetryInterval = envDuration("LEADER_RETRY_INTERVAL", "5s")
	cfg.LeaderHeartbeatIntervalStr, cfg.LeaderHeartbeatInterval = envDuration("LEADER_HEARTBEAT_INTERVAL", "2s")

	return cfg
}

// envDuration returns the raw value (or def) and its parsed duration. The
// parsed value is zero when the string is invalid.
func envDuration(name, def string) (string, time.Duration) {
	s := os.Getenv(name)
	if s == "" {
		s = def
	}
	d, _ := time.ParseDuration(s)
	return s, d
}

func envPositiveInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
		return def
	}
	return n
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.AdvisorSecret = maskSecret(c.AdvisorSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
