package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/printfleet/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	positive := []struct {
		field string
		value string
	}{
		{"STATUS_REFRESH_INTERVAL", cfg.StatusRefreshIntervalStr},
		{"CHECKPOINT_TICK", cfg.CheckpointTickStr},
		{"ADVISOR_TIMEOUT", cfg.AdvisorTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, p := range positive {
		if err := checkDuration(p.value, false); err != "" {
			errs = append(errs, ValidationError{Field: p.field, Message: err})
		}
	}

	// Zero grace flags a job as soon as its start passes.
	if err := checkDuration(cfg.PendingGraceStr, true); err != "" {
		errs = append(errs, ValidationError{Field: "PENDING_GRACE", Message: err})
	}

	if cfg.CheckpointSchedule != "" {
		if _, err := cron.NewParser().Parse(cfg.CheckpointSchedule, cfg.CheckpointTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "CHECKPOINT_SCHEDULE",
				Message: err.Error(),
			})
		}
	}

	if cfg.AdvisorURL != "" {
		u, err := url.Parse(cfg.AdvisorURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ADVISOR_URL",
				Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.AdvisorURL),
			})
		}
		if cfg.AdvisorSecret == "" {
			errs = append(errs, ValidationError{
				Field:   "ADVISOR_SECRET",
				Message: "required when ADVISOR_URL is set",
			})
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must not be negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDuration(s string, allowZero bool) string {
	if s == "" {
		return ""
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Sprintf("invalid duration: %v", err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		if allowZero {
			return "must not be negative"
		}
		return "must be positive"
	}
	return ""
}
