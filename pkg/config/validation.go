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

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Database.Enabled && cfg.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required when the database is enabled")
	}

	// The SQL session store keeps its rows in the pooled database
	if cfg.Session.Store == "sql" && !cfg.Database.Enabled {
		return fmt.Errorf("session: store %q requires database.enabled", cfg.Session.Store)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port && cfg.Server.Port != 0 {
		return fmt.Errorf("metrics: port %d is already used by the server", cfg.Metrics.Port)
	}

	if cfg.Server.RequestBurst > 0 && cfg.Server.RequestsPerSecond == 0 {
		return fmt.Errorf("server: request_burst requires requests_per_second")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
