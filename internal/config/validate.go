package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns errors (fatal) and
// warnings (non-fatal).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Session.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}

	if _, err := d.EffectiveDatabaseName(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.database",
			Message: err.Error(),
			Hint:    "set database.database or include a /database in database.dsn",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}
}

func (s *SessionConfig) validate(result *ValidationResult) {
	if s.TokenLifetime < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "session.token_lifetime",
			Message: "token_lifetime cannot be negative",
		})
	}
	if s.OIDCEnabled {
		if s.OIDCIssuerURL == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "session.oidc_issuer_url",
				Message: "issuer URL is required when OIDC is enabled",
			})
		}
		if s.OIDCAudience == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "session.oidc_audience",
				Message: "audience is required when OIDC is enabled",
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.OTLP.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.otlp.protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.OTLP.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}
	if o.Logging.ExportsEnabled && o.OTLP.Endpoint == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "observability.logging.exports_enabled",
			Message: "log exports are enabled but no OTLP endpoint is configured",
			Hint:    "set observability.otlp.endpoint to export logs",
		})
	}
}
