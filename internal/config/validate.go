package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/slotshare/warranty/internal/cron"
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

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// BROWSER_ADDR is required and must be an http(s) URL
	if cfg.BrowserAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "BROWSER_ADDR",
			Message: "required",
		})
	} else if err := validateHTTPURL(cfg.BrowserAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "BROWSER_ADDR",
			Message: err.Error(),
		})
	}

	errs = append(errs, validateDuration("BROWSER_CALL_TIMEOUT", cfg.BrowserCallTimeoutStr)...)
	errs = append(errs, validateDuration("PROBE_STEP_DELAY", cfg.ProbeStepDelayStr)...)
	errs = append(errs, validateDuration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr)...)
	errs = append(errs, validateDuration("STREAM_HEARTBEAT", cfg.StreamHeartbeatStr)...)
	errs = append(errs, validateDuration("STREAM_PUBLISH_TIMEOUT", cfg.StreamPublishTimeoutStr)...)

	// SWEEP_SCHEDULE must be a five-field cron expression in SWEEP_TIMEZONE
	if cfg.SweepEnabled {
		if _, err := cron.NewParser().Parse(cfg.SweepSchedule, cfg.SweepTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_SCHEDULE",
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
