package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// resolveFields runs the two resolution passes over every field of the
// list. Pass 1 handles everything that is not a relation; pass 2 resolves
// relation fields against their related lists, because nested resolution
// must see the fully-resolved non-relation data first. Errors within a
// pass are collected per field and raised as one combined error after the
// pass; the second pass does not run if the first failed.
func (p *Pipeline) resolveFields(ctx context.Context, args *schema.HookArgs, st *opState) error {
	if err := p.resolveScalarPass(ctx, args); err != nil {
		return err
	}
	return p.resolveRelationPass(ctx, args, st)
}

func (p *Pipeline) resolveScalarPass(ctx context.Context, args *schema.HookArgs) error {
	list := args.List
	var failures []FieldFailure

	for _, key := range list.FieldKeys() {
		field := list.Fields[key]
		if field.Kind == schema.KindRelation {
			continue
		}

		raw, present := args.Input[key]
		switch {
		case present:
			value := raw
			if resolver := field.InputResolver(args.Operation); resolver != nil {
				args.FieldKey = key
				resolved, err := resolver(ctx, raw, args)
				args.FieldKey = ""
				if err != nil {
					failures = append(failures, FieldFailure{Field: key, Err: err})
					continue
				}
				value = resolved
			}
			args.Resolved[key] = value
		case args.Operation == schema.OpCreate && field.Default != nil:
			args.Resolved[key] = field.Default
		}

		if field.AutoNowOnCreate && args.Operation == schema.OpCreate && !present {
			args.Resolved[key] = time.Now().UTC()
		}
		if field.AutoNowOnUpdate && args.Operation == schema.OpUpdate {
			args.Resolved[key] = time.Now().UTC()
		}
	}

	if args.Operation == schema.OpCreate && list.IDKind == schema.IDString {
		if _, supplied := args.Resolved[list.IDColumn()]; !supplied {
			args.Resolved[list.IDColumn()] = uuid.NewString()
		}
	}

	if p.metrics != nil && len(failures) > 0 {
		p.metrics.RecordFieldErrors(ctx, list.Key, "resolve", len(failures))
	}
	if len(failures) > 0 {
		return &ResolverErrors{Failures: failures}
	}
	return nil
}

func (p *Pipeline) resolveRelationPass(ctx context.Context, args *schema.HookArgs, st *opState) error {
	list := args.List
	var failures []FieldFailure

	for _, key := range list.FieldKeys() {
		field := list.Fields[key]
		if field.Kind != schema.KindRelation {
			continue
		}

		raw, present := args.Input[key]
		// Absent or explicitly null relationship input is a deliberate
		// no-op: the field stays unset.
		if !present || raw == nil {
			continue
		}

		var (
			value any
			err   error
		)
		if resolver := field.InputResolver(args.Operation); resolver != nil {
			args.FieldKey = key
			value, err = resolver(ctx, raw, args)
			args.FieldKey = ""
		} else {
			value, err = p.resolveRelation(ctx, field, args.Operation, raw, st)
		}
		if err != nil {
			failures = append(failures, FieldFailure{Field: key, Err: err})
			continue
		}
		if value != nil {
			args.Resolved[key] = value
		}
	}

	if p.metrics != nil && len(failures) > 0 {
		p.metrics.RecordFieldErrors(ctx, list.Key, "relationship", len(failures))
	}
	if len(failures) > 0 {
		return &RelationshipErrors{Failures: failures}
	}
	return nil
}

// resolveRelation dispatches to one of the four nested strategies by
// (cardinality, operation).
func (p *Pipeline) resolveRelation(ctx context.Context, field *schema.Field, op schema.Operation, raw any, st *opState) (any, error) {
	input, err := parseNestedInput(field, raw)
	if err != nil {
		return nil, err
	}
	switch {
	case field.Many && op == schema.OpCreate:
		return p.relateToManyForCreate(ctx, field, input, st)
	case field.Many:
		return p.relateToManyForUpdate(ctx, field, input, st)
	case op == schema.OpCreate:
		return p.relateToOneForCreate(ctx, field, input, st)
	default:
		return p.relateToOneForUpdate(ctx, field, input, st)
	}
}

// dataForWrite strips pipeline-internal values that must not reach the
// store call itself: to-many relation updates are applied after the parent
// row exists, not as a column of it.
func dataForWrite(resolved store.Item) (data store.Item, relations []store.RelationUpdate) {
	data = make(store.Item, len(resolved))
	for k, v := range resolved {
		if ru, ok := v.(store.RelationUpdate); ok {
			relations = append(relations, ru)
			continue
		}
		data[k] = v
	}
	return data, relations
}
