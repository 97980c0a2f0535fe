// Package store defines the persistence contract the mutation pipeline
// writes through. Implementations are scoped to a single table-like
// collection and are expected to run inside a caller-managed
// write-serialization boundary.
package store

import (
	"context"
	"reflect"
)

// Item is a persisted or in-flight record as a flat column->value mapping.
type Item map[string]any

// Where is a flat column->value condition. All entries are ANDed.
type Where map[string]any

// Collection exposes the four operations the pipeline needs against one
// record collection. FindUnique returns (nil, nil) when no row matches.
type Collection interface {
	FindUnique(ctx context.Context, where Where) (Item, error)
	Create(ctx context.Context, data Item) (Item, error)
	Update(ctx context.Context, where Where, data Item) (Item, error)
	Delete(ctx context.Context, where Where) (Item, error)
}

// Store hands out collection clients by table name.
type Store interface {
	Collection(table string) Collection
}

// NullValue is the explicit "set this column to NULL" marker. For
// JSON-typed columns an in-memory nil is indistinguishable from "do not
// touch this column", so the write executor translates nil into this
// sentinel before the data map reaches a Collection.
type NullValue struct{}

// ExplicitNull is the single NullValue used across the pipeline.
var ExplicitNull = NullValue{}

// IsExplicitNull reports whether v is the set-to-null sentinel.
func IsExplicitNull(v any) bool {
	_, ok := v.(NullValue)
	return ok
}

// RelationUpdate is the value the write executor places under a to-many
// relation key. The collection applies it after the parent row exists.
//
// Set, when non-nil, replaces the full membership; it is never combined
// with Connect or Disconnect.
type RelationUpdate struct {
	Table      string // related collection
	ForeignKey string // column on the related collection referencing the parent
	Connect    []any  // related ids to attach
	Disconnect []any  // related ids to detach
	Set        *[]any // full replacement membership
}

// MergeWhere returns a condition matching both a and b. A key present in
// both must carry the same value on each side; when the values disagree no
// row can satisfy both conditions and ok is false. Neither side may
// override the other: callers merge an access filter into a user-resolved
// unique condition, and a disagreement means the caller is targeting a row
// the filter excludes.
func MergeWhere(a, b Where) (merged Where, ok bool) {
	if len(a) == 0 {
		return b, true
	}
	out := make(Where, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, shared := out[k]; shared && !reflect.DeepEqual(existing, v) {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}
