package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers toolchest-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates a positive Go duration string ("10s", "2m", "168h")
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration validates a duration field.
// Valid values: any positive time.ParseDuration string, e.g. "500ms", "10s", "2m".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: retry backoff ordering
	if err := c.validateRetryDelays(); err != nil {
		return err
	}

	return nil
}

// validateRetryDelays ensures the workflow backoff cap is not below the base
// delay. Tag validation has already run, so non-empty values parse.
func (c *Config) validateRetryDelays() error {
	if c.Workflow.RetryBaseDelay == "" || c.Workflow.RetryMaxDelay == "" {
		return nil
	}
	base, err := time.ParseDuration(c.Workflow.RetryBaseDelay)
	if err != nil {
		return nil
	}
	ceiling, err := time.ParseDuration(c.Workflow.RetryMaxDelay)
	if err != nil {
		return nil
	}
	if ceiling < base {
		return fmt.Errorf("workflow: retry_max_delay (%s) must be >= retry_base_delay (%s)",
			c.Workflow.RetryMaxDelay, c.Workflow.RetryBaseDelay)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"10s\", \"2m\")", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
