// Package sqlstore implements the store contract against MySQL. One
// Store serves all collections; statements are built with squirrel and
// the connection is instrumented with otelsql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/leopoldkristjansson/keystone/internal/store"
)

// Store is a MySQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to MySQL with OpenTelemetry instrumentation.
func Open(dsn string) (*Store, error) {
	db, err := otelsql.Open("mysql", dsn,
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle; used by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for pool tuning and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Collection returns a client scoped to one table.
func (s *Store) Collection(table string) store.Collection {
	return &collection{db: s.db, table: table}
}

type collection struct {
	db    *sql.DB
	table string
}

// FindUnique returns the single row matching where, or (nil, nil).
func (c *collection) FindUnique(ctx context.Context, where store.Where) (store.Item, error) {
	query, args, err := sq.Select("*").
		From(c.table).
		Where(sq.Eq(normalizeMap(where))).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeError(err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// Create inserts one row and returns it re-read by id. When data carries
// no id the store-assigned auto-increment id is used.
func (c *collection) Create(ctx context.Context, data store.Item) (store.Item, error) {
	values := normalizeMap(data)
	columns := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, col := range sortedKeys(values) {
		columns = append(columns, col)
		args = append(args, values[col])
	}

	query, sqlArgs, err := sq.Insert(c.table).Columns(columns...).Values(args...).ToSql()
	if err != nil {
		return nil, err
	}
	result, err := c.db.ExecContext(ctx, query, sqlArgs...)
	if err != nil {
		return nil, normalizeError(err)
	}

	id, supplied := data["id"]
	if !supplied || id == nil {
		lastID, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		id = lastID
	}
	return c.FindUnique(ctx, store.Where{"id": id})
}

// Update rewrites the matching rows. When where addresses a single row by
// id the updated row is re-read and returned; broader conditions (e.g.
// foreign-key relinking) return (nil, nil).
func (c *collection) Update(ctx context.Context, where store.Where, data store.Item) (store.Item, error) {
	query, args, err := sq.Update(c.table).
		SetMap(normalizeMap(data)).
		Where(sq.Eq(normalizeMap(where))).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return nil, normalizeError(err)
	}

	if id, ok := where["id"]; ok && len(where) == 1 {
		return c.FindUnique(ctx, store.Where{"id": id})
	}
	return nil, nil
}

// Delete removes the row matching where and returns its last state.
func (c *collection) Delete(ctx context.Context, where store.Where) (store.Item, error) {
	item, err := c.FindUnique(ctx, where)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	query, args, err := sq.Delete(c.table).Where(sq.Eq(normalizeMap(where))).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return nil, normalizeError(err)
	}
	return item, nil
}

// normalizeMap converts the explicit-null sentinel into a SQL NULL. By
// the time a data map reaches the store the sentinel is the only way a
// column is set to NULL; plain absent keys were never added.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if store.IsExplicitNull(v) {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scanItems(rows *sql.Rows) ([]store.Item, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var items []store.Item
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		item := make(store.Item, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				item[col] = string(b)
				continue
			}
			item[col] = values[i]
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MySQL error numbers normalized into the store error taxonomy.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	mysqlErrBadNull         = 1048
	mysqlErrNoDefault       = 1364
	mysqlErrTableAccess     = 1142
	mysqlErrColumnAccess    = 1143
)

func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}
	switch mysqlErr.Number {
	case mysqlErrDupEntry:
		return &store.ConflictError{Message: mysqlErr.Message}
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow, mysqlErrBadNull, mysqlErrNoDefault:
		return &store.ConstraintError{Message: mysqlErr.Message}
	case mysqlErrTableAccess, mysqlErrColumnAccess:
		return &store.DeniedError{Message: mysqlErr.Message}
	default:
		return err
	}
}
