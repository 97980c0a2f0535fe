package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set), used only for file and prompt secrets
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("keystone")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/keystone/")
		v.AddConfigPath("$HOME/.keystone")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dot + snake_case; env vars look like
	// KEYSTONE_DATABASE_PASSWORD_FILE.
	v.SetEnvPrefix("KEYSTONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}

	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	if v.GetString("session.secret") == "" && v.GetString("session.secret_file") != "" {
		secretPath := v.GetString("session.secret_file")
		secret, err := readSecretFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read session secret file: %w", err)
		}
		if secret == "" {
			return nil, fmt.Errorf("session secret file %q is empty", secretPath)
		}
		v.Set("session.secret", secret)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := pflag.CommandLine.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines all command line flags using canonical snake_case keys.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
		pflag.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
		pflag.String("database.host", "", "Database host")
		pflag.Int("database.port", 0, "Database port")
		pflag.String("database.user", "", "Database user")
		pflag.String("database.password", "", "Database password")
		pflag.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
		pflag.Bool("database.password_prompt", false, "Prompt for database password securely")
		pflag.String("database.database", "", "Database name")
		pflag.Int("database.pool.max_open", 0, "Maximum open database connections")
		pflag.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
		pflag.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
		pflag.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
		pflag.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

		pflag.Int("server.port", 0, "HTTP server port")
		pflag.Bool("server.graphiql_enabled", false, "Enable GraphiQL UI for /graphql (dev only)")
		pflag.Duration("server.read_timeout", 0, "HTTP server read timeout")
		pflag.Duration("server.write_timeout", 0, "HTTP server write timeout")
		pflag.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
		pflag.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")

		pflag.String("session.secret", "", "HMAC secret for signing admin session tokens")
		pflag.String("session.secret_file", "", "Path to file containing session secret (use @- for stdin)")
		pflag.Duration("session.token_lifetime", 0, "Lifetime of minted admin session tokens")
		pflag.Bool("session.oidc_enabled", false, "Enable OIDC bearer token authentication")
		pflag.String("session.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)")
		pflag.String("session.oidc_audience", "", "Expected JWT audience (client ID)")
		pflag.Duration("session.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")

		pflag.String("observability.service_name", "", "Service name for observability")
		pflag.String("observability.service_version", "", "Service version for observability")
		pflag.String("observability.environment", "", "Environment name (dev, staging, prod)")
		pflag.Bool("observability.metrics_enabled", false, "Enable metrics collection")
		pflag.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
		pflag.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
		pflag.String("observability.logging.format", "", "Log format (json, text)")
		pflag.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
		pflag.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
		pflag.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
		pflag.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
		pflag.Duration("observability.otlp.timeout", 0, "OTLP export timeout")

		pflag.StringP("config", "c", "", "Config file path")
	})
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "keystone")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "keystone")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.graphiql_enabled", false)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.secret_file", "")
	v.SetDefault("session.token_lifetime", 12*time.Hour)
	v.SetDefault("session.oidc_enabled", false)
	v.SetDefault("session.oidc_issuer_url", "")
	v.SetDefault("session.oidc_audience", "")
	v.SetDefault("session.oidc_clock_skew", 2*time.Minute)

	v.SetDefault("observability.service_name", "keystone")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"database.dsn_file",
		"database.password_file",
		"session.secret_file",
	}

	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}

	return nil
}
