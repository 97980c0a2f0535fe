// Package schema holds the immutable list/field configuration the mutation
// pipeline operates on. Lists are registered once, relationships are
// resolved by name after all lists exist (the reference graph may cycle),
// and nothing here mutates at runtime.
package schema

import (
	"context"

	"github.com/leopoldkristjansson/keystone/internal/store"
)

// FieldKind is a field's storage shape.
type FieldKind int

const (
	// KindScalar maps to exactly one storage column.
	KindScalar FieldKind = iota
	// KindRelation references another list, to-one or to-many.
	KindRelation
	// KindMulti maps to several storage columns keyed fieldKey_subKey.
	KindMulti
)

// IDKind is a list's identifier strategy.
type IDKind int

const (
	// IDAutoIncrement lets the store assign an integer id.
	IDAutoIncrement IDKind = iota
	// IDString uses caller- or pipeline-supplied uuid strings.
	IDString
	// IDSingleton fixes the identifier to 1; the list holds one row.
	IDSingleton
)

// HookArgs is the bundle threaded through one item's mutation lifecycle.
// Resolved is mutated in place across phases; everything else is
// immutable by convention. One HookArgs never spans batch items.
type HookArgs struct {
	Operation Operation
	List      *List
	Session   any // acting identity, opaque to the pipeline

	// Input is the raw input value tree for create/update, nil for delete.
	Input map[string]any
	// Resolved is the storage-ready value tree being built up.
	Resolved store.Item
	// Existing is the pre-operation row snapshot for update/delete.
	Existing store.Item
	// Item is the persisted row, set only for afterOperation hooks. The
	// pipeline holds no reference to it once the mutation returns.
	Item store.Item
	// FieldKey is set while a field-level hook or resolver runs.
	FieldKey string
}

// FieldInputResolver transforms a raw input value into a storage-ready
// value for one field. raw is the value as supplied by the caller; it is
// only invoked when the field key is present in the input.
type FieldInputResolver func(ctx context.Context, raw any, args *HookArgs) (any, error)

// FieldResolveInputHook rewrites the resolved value for args.FieldKey.
type FieldResolveInputHook func(ctx context.Context, args *HookArgs) (any, error)

// ListResolveInputHook rewrites the full resolved tree; the returned item
// replaces args.Resolved.
type ListResolveInputHook func(ctx context.Context, args *HookArgs) (store.Item, error)

// ValidateHook rejects the resolved tree. Failures across all fields are
// collected before the pipeline reports one combined error.
type ValidateHook func(ctx context.Context, args *HookArgs) error

// OperationHook runs for side effects before or after the persisted write.
type OperationHook func(ctx context.Context, args *HookArgs) error

// FieldHooks are the per-operation lifecycle capabilities of one field.
type FieldHooks struct {
	ResolveInput    map[Operation]FieldResolveInputHook
	Validate        map[Operation]ValidateHook
	BeforeOperation map[Operation]OperationHook
	AfterOperation  map[Operation]OperationHook
}

// ListHooks are the per-operation lifecycle capabilities of one list.
type ListHooks struct {
	ResolveInput    map[Operation]ListResolveInputHook
	Validate        map[Operation]ValidateHook
	BeforeOperation map[Operation]OperationHook
	AfterOperation  map[Operation]OperationHook
}

// Filter is a row-level access decision: unrestricted, nothing visible,
// or restricted to rows matching Where.
type Filter struct {
	Allow bool
	Where store.Where // non-nil only when Allow is true and restricted
}

// FilterAll permits every row.
func FilterAll() Filter { return Filter{Allow: true} }

// FilterNone permits no rows. It must be rejected before the store is hit.
func FilterNone() Filter { return Filter{} }

// FilterWhere restricts to rows matching w.
func FilterWhere(w store.Where) Filter { return Filter{Allow: true, Where: w} }

// AccessConfig is the per-list access decision provider. Nil members allow.
type AccessConfig struct {
	// Operation decides whether an operation kind is permitted at all,
	// ignoring row identity. Evaluated once per batch.
	Operation func(ctx context.Context, op Operation, session any) bool
	// Filter computes the row-level restriction for update/delete.
	Filter func(ctx context.Context, op Operation, session any) Filter
	// CreateInput authorizes a create from its raw input; there is no
	// pre-existing row to filter.
	CreateInput func(ctx context.Context, session any, input map[string]any) error
}

// Field is one typed attribute of a list.
type Field struct {
	Key  string
	Kind FieldKind

	// SubKeys are the multi-field components, expanded to Key_SubKey
	// storage columns by the write executor.
	SubKeys []string

	// JSON marks a structured/opaque column where explicit null must be
	// distinguished from "column untouched".
	JSON bool

	Unique   bool
	Required bool
	Default  any

	// AutoNowOnCreate/AutoNowOnUpdate stamp the field with the current
	// time during pass-1 resolution when the input omits it.
	AutoNowOnCreate bool
	AutoNowOnUpdate bool

	// Relation wiring. Ref names the related list; Many selects to-many.
	// ForeignKey is the column on the related table pointing back at
	// this list for to-many relations; for to-one relations the id of
	// the related row is stored in this field's own column.
	Ref        string
	Many       bool
	ForeignKey string

	// CreateInput/UpdateInput are optional per-operation input resolvers.
	CreateInput FieldInputResolver
	UpdateInput FieldInputResolver

	Hooks FieldHooks

	related *List
}

// InputResolver returns the resolver for op, or nil.
func (f *Field) InputResolver(op Operation) FieldInputResolver {
	switch op {
	case OpCreate:
		return f.CreateInput
	case OpUpdate:
		return f.UpdateInput
	default:
		return nil
	}
}

// Related returns the resolved related list for a relation field. It is
// nil until Registry.ResolveRelations has run.
func (f *Field) Related() *List { return f.related }

// List is a named record collection.
type List struct {
	Key string

	// Table is the storage collection name; defaults to the pluralized
	// snake_case of Key.
	Table string

	IDKind IDKind

	Fields map[string]*Field
	// order preserves registration order so resolution passes and error
	// aggregation are deterministic.
	order []string

	Hooks  ListHooks
	Access AccessConfig
}

// NewList builds a list from fields, preserving field order.
func NewList(key string, fields []*Field) *List {
	l := &List{
		Key:    key,
		Table:  TableName(key),
		Fields: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		l.Fields[f.Key] = f
		l.order = append(l.order, f.Key)
	}
	return l
}

// FieldKeys returns field keys in registration order.
func (l *List) FieldKeys() []string { return l.order }

// IDColumn is the identifier column. Every list uses "id".
func (l *List) IDColumn() string { return "id" }

// UniqueFieldKeys returns the keys usable as a unique target: the id
// column plus every field marked Unique.
func (l *List) UniqueFieldKeys() []string {
	keys := []string{l.IDColumn()}
	for _, k := range l.order {
		if l.Fields[k].Unique {
			keys = append(keys, k)
		}
	}
	return keys
}
