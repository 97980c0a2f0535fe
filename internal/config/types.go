package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Session       SessionConfig       `mapstructure:"session"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql Data Source Name.
	// Format: user:password@tcp(host:port)/database?params
	// When set, overrides Host/Port/User/Password/Database fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Discrete connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GraphiQLEnabled bool          `mapstructure:"graphiql_enabled"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SessionConfig holds session authentication parameters. Admin tokens are
// HMAC-signed JWTs minted by this service; OIDC trusts an external issuer.
type SessionConfig struct {
	Secret        string        `mapstructure:"secret"`
	SecretFile    string        `mapstructure:"secret_file"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`

	OIDCEnabled   bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience  string        `mapstructure:"oidc_audience"`
	OIDCClockSkew time.Duration `mapstructure:"oidc_clock_skew"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	TracingEnabled bool          `mapstructure:"tracing_enabled"`
	Logging        LoggingConfig `mapstructure:"logging"`
	OTLP           OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Protocol string        `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure bool          `mapstructure:"insecure"`
	Timeout  time.Duration `mapstructure:"timeout"`
}
