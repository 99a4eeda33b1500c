package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed declaratively.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Control.QueueTimeoutEnabled && cfg.Control.QueueTimeout <= 0 {
		return fmt.Errorf("control: queue_timeout must be positive when queue_timeout_enabled is set")
	}

	if cfg.Control.RequestsPerSecond > 0 && cfg.Control.Burst == 0 {
		return fmt.Errorf("control: burst must be set when requests_per_second is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
