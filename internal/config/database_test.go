package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNFromDiscreteFields(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     3306,
		User:     "keystone",
		Password: "hunter2",
		Database: "keystone",
	}
	assert.Equal(t,
		"keystone:hunter2@tcp(db.internal:3306)/keystone?parseTime=true&loc=UTC",
		d.DSN())
}

func TestDSNNormalizesConnectionString(t *testing.T) {
	cases := []struct {
		name string
		dsn  string
		want string
	}{
		{
			"bare dsn gains both params",
			"user:pw@tcp(db:3306)/keystone",
			"user:pw@tcp(db:3306)/keystone?parseTime=true&loc=UTC",
		},
		{
			"existing query string is appended to",
			"user:pw@tcp(db:3306)/keystone?tls=true",
			"user:pw@tcp(db:3306)/keystone?tls=true&parseTime=true&loc=UTC",
		},
		{
			"parseTime already present",
			"user:pw@tcp(db:3306)/keystone?parseTime=true",
			"user:pw@tcp(db:3306)/keystone?parseTime=true&loc=UTC",
		},
		{
			"fully specified dsn is untouched",
			"user:pw@tcp(db:3306)/keystone?parseTime=true&loc=Local",
			"user:pw@tcp(db:3306)/keystone?parseTime=true&loc=Local",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DatabaseConfig{ConnectionString: tc.dsn}
			assert.Equal(t, tc.want, d.DSN())
		})
	}
}

func TestEffectiveDatabaseName(t *testing.T) {
	t.Run("discrete field only", func(t *testing.T) {
		d := DatabaseConfig{Database: "keystone"}
		name, err := d.EffectiveDatabaseName()
		require.NoError(t, err)
		assert.Equal(t, "keystone", name)
	})

	t.Run("dsn only", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "user:pw@tcp(db:3306)/from_dsn"}
		name, err := d.EffectiveDatabaseName()
		require.NoError(t, err)
		assert.Equal(t, "from_dsn", name)
	})

	t.Run("both agree", func(t *testing.T) {
		d := DatabaseConfig{
			ConnectionString: "user:pw@tcp(db:3306)/keystone",
			Database:         "keystone",
		}
		name, err := d.EffectiveDatabaseName()
		require.NoError(t, err)
		assert.Equal(t, "keystone", name)
	})

	t.Run("mismatch is an error", func(t *testing.T) {
		d := DatabaseConfig{
			ConnectionString: "user:pw@tcp(db:3306)/other",
			Database:         "keystone",
		}
		_, err := d.EffectiveDatabaseName()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database mismatch")
	})

	t.Run("neither configured", func(t *testing.T) {
		d := DatabaseConfig{}
		_, err := d.EffectiveDatabaseName()
		assert.Error(t, err)
	})

	t.Run("malformed dsn", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "not a dsn at all ("}
		_, err := d.EffectiveDatabaseName()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn is invalid")
	})
}
