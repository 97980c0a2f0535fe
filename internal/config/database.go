package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DSN returns a MySQL-compatible data source name. If ConnectionString is
// set it is used directly; otherwise the DSN is built from discrete fields.
func (d *DatabaseConfig) DSN() string {
	var dsn string

	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
		return dsn
	}

	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
	)
}

// EffectiveDatabaseName returns the database the service will operate on,
// resolving the DSN's path segment against the discrete database field.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configDatabase := strings.TrimSpace(d.Database)
	dsnDatabase, err := parseDSNDatabaseName(d.ConnectionString)
	if err != nil {
		return "", err
	}

	if configDatabase != "" {
		if dsnDatabase != "" && configDatabase != dsnDatabase {
			return "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configDatabase,
				dsnDatabase,
			)
		}
		return configDatabase, nil
	}
	if dsnDatabase != "" {
		return dsnDatabase, nil
	}
	return "", fmt.Errorf(
		"no database name configured: set database.database or include /<database> in database.dsn",
	)
}

func parseDSNDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}

	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}
