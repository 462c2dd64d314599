package config

import (
	"fmt"
	"time"
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

	if cfg.RoutesPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ROUTES_PATH",
			Message: "required",
		})
	}

	switch cfg.LedgerBackend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, ValidationError{
				Field:   "REDIS_ADDR",
				Message: "required when LEDGER_BACKEND is 'redis'",
			})
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when LEDGER_BACKEND is 'postgres'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "LEDGER_BACKEND",
			Message: fmt.Sprintf("must be 'memory', 'redis' or 'postgres', got %q", cfg.LedgerBackend),
		})
	}

	for _, dur := range []struct {
		field string
		str   string
	}{
		{"LEDGER_RETENTION", cfg.LedgerRetentionStr},
		{"SWEEP_INTERVAL", cfg.SweepIntervalStr},
		{"DELIVERY_TIMEOUT", cfg.DeliveryTimeoutStr},
		{"DRAIN_TIMEOUT", cfg.DrainTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
	} {
		if dur.str == "" {
			continue
		}
		d, err := time.ParseDuration(dur.str)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
