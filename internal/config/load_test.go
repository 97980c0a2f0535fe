package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Load itself drives the process-global pflag.CommandLine, so the tests
// exercise its pieces: defaults, secret file loading, and the stdin guard.

func TestDefaultsUnmarshal(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()),
	))

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "keystone", cfg.Database.User)
	assert.Equal(t, "keystone", cfg.Database.Database)
	assert.Equal(t, 25, cfg.Database.Pool.MaxOpen)
	assert.Equal(t, 5, cfg.Database.Pool.MaxIdle)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, 60*time.Second, cfg.Database.ConnectionTimeout)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectionRetryInterval)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.GraphiQLEnabled)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 12*time.Hour, cfg.Session.TokenLifetime)
	assert.Equal(t, 2*time.Minute, cfg.Session.OIDCClockSkew)

	assert.Equal(t, "keystone", cfg.Observability.ServiceName)
	assert.Equal(t, "development", cfg.Observability.Environment)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
	assert.Equal(t, "grpc", cfg.Observability.OTLP.Protocol)
	assert.Equal(t, 10*time.Second, cfg.Observability.OTLP.Timeout)

	// The defaults must validate cleanly on their own.
	result := cfg.Validate()
	assert.False(t, result.HasErrors(), "default config has errors: %s", result.Error())
}

func TestReadSecretFileTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("  s3cret-value\n"), 0o600))

	got, err := readSecretFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", got)
}

func TestReadSecretFileMissingPath(t *testing.T) {
	_, err := readSecretFile(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestReadSecretFileFromStdin(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = orig })

	_, err = w.WriteString("piped-secret\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := readSecretFile("@-")
	require.NoError(t, err)
	assert.Equal(t, "piped-secret", got)
}

func TestValidateSingleStdinFileSourceAllowsOne(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "/run/secrets/dsn")
		v.Set("database.password_file", "/run/secrets/password")
		v.Set("session.secret_file", "")

		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("one", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", "/run/secrets/password")
		v.Set("session.secret_file", "")

		assert.NoError(t, validateSingleStdinFileSource(v))
	})
}

func TestValidateSingleStdinFileSourceRejectsMultiple(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", " @- ")
	v.Set("session.secret_file", "@-")

	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
	assert.Contains(t, err.Error(), "session.secret_file")
}
