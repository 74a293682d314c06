package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Guardian-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("redis_url", validateRedisURL); err != nil {
		return fmt.Errorf("failed to register redis_url validator: %w", err)
	}
	if err := v.RegisterValidation("stream_name", validateStreamName); err != nil {
		return fmt.Errorf("failed to register stream_name validator: %w", err)
	}
	return nil
}

// validateRedisURL accepts redis:// and rediss:// URLs.
func validateRedisURL(fl validator.FieldLevel) bool {
	url := fl.Field().String()
	return strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://")
}

// validateStreamName accepts dotted lowercase names like "action.intent".
// Redis allows nearly any key, but keeping stream names in one shape makes
// consumer-group debugging with XINFO a lot less painful.
func validateStreamName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return name[0] != '.' && name[len(name)-1] != '.'
}

// Validate validates the Config using struct tags and custom rules.
// Returns an error with actionable messages if validation fails.
func Validate(c *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := validateStreamsDistinct(c); err != nil {
		return err
	}

	return nil
}

// validateStreamsDistinct ensures no two streams share a name. The worker
// reading its own decision output back as intents is an easy misconfiguration
// to make and a miserable one to debug.
func validateStreamsDistinct(c *Config) error {
	seen := make(map[string]string, 4)
	for field, name := range map[string]string{
		"streams.intent":            c.Streams.Intent,
		"streams.decision":          c.Streams.Decision,
		"streams.approval_request":  c.Streams.ApprovalRequest,
		"streams.approval_decision": c.Streams.ApprovalDecision,
	} {
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s must not share the stream name %q", prev, field, name)
		}
		seen[name] = field
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
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
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "redis_url":
		return fmt.Sprintf("%s must be a redis:// or rediss:// URL", field)
	case "stream_name":
		return fmt.Sprintf("%s must be a dotted lowercase stream name like 'action.intent'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
