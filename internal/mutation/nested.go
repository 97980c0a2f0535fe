package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// nestedInput is the parsed connect/create/disconnect/set sub-operation
// bundle of one relationship field.
type nestedInput struct {
	connect    []map[string]any
	create     []map[string]any
	disconnect []map[string]any
	set        *[]map[string]any

	// disconnectAll is the to-one {"disconnect": true} form.
	disconnectAll bool
}

func parseNestedInput(field *schema.Field, raw any) (nestedInput, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nestedInput{}, &ValidationError{Message: "relationship input must be an object", Field: field.Key}
	}

	var in nestedInput
	for key, v := range m {
		if v == nil {
			continue
		}
		switch key {
		case "connect", "create", "disconnect":
			items, err := nestedItems(field, key, v)
			if err != nil {
				if key == "disconnect" && !field.Many {
					if b, isBool := v.(bool); isBool {
						in.disconnectAll = b
						continue
					}
				}
				return nestedInput{}, err
			}
			switch key {
			case "connect":
				in.connect = items
			case "create":
				in.create = items
			case "disconnect":
				in.disconnect = items
			}
		case "set":
			if !field.Many {
				return nestedInput{}, &ValidationError{Message: "set is only valid on to-many relationships", Field: field.Key}
			}
			items, err := nestedItems(field, key, v)
			if err != nil {
				return nestedInput{}, err
			}
			in.set = &items
		default:
			return nestedInput{}, &ValidationError{
				Message: fmt.Sprintf("unknown relationship operation %q", key),
				Field:   field.Key,
			}
		}
	}
	return in, nil
}

// nestedItems normalizes a sub-operation value: to-many fields take a list
// of objects, to-one fields take a single object.
func nestedItems(field *schema.Field, op string, v any) ([]map[string]any, error) {
	if field.Many {
		list, ok := v.([]any)
		if !ok {
			return nil, &ValidationError{
				Message: fmt.Sprintf("%s must be a list of objects on a to-many relationship", op),
				Field:   field.Key,
			}
		}
		items := make([]map[string]any, 0, len(list))
		for _, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, &ValidationError{
					Message: fmt.Sprintf("%s entries must be objects", op),
					Field:   field.Key,
				}
			}
			items = append(items, m)
		}
		return items, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{
			Message: fmt.Sprintf("%s must be an object on a to-one relationship", op),
			Field:   field.Key,
		}
	}
	return []map[string]any{m}, nil
}

// relateToOneForCreate resolves a single related row reference or a single
// nested create; the result is the related id stored in the parent column.
func (p *Pipeline) relateToOneForCreate(ctx context.Context, field *schema.Field, in nestedInput, st *opState) (any, error) {
	if len(in.connect)+len(in.create) != 1 || len(in.disconnect) > 0 || in.disconnectAll {
		return nil, &ValidationError{
			Message: "exactly one of connect or create must be provided for a to-one relationship on create",
			Field:   field.Key,
		}
	}
	if len(in.connect) == 1 {
		return p.connectOne(ctx, field.Related(), in.connect[0], st)
	}
	item, err := p.nestedCreate(ctx, field.Related(), in.create[0], st)
	if err != nil {
		return nil, err
	}
	return item[field.Related().IDColumn()], nil
}

// relateToOneForUpdate additionally accepts {"disconnect": true}, which
// resolves to the explicit-null sentinel for the parent column.
func (p *Pipeline) relateToOneForUpdate(ctx context.Context, field *schema.Field, in nestedInput, st *opState) (any, error) {
	ops := len(in.connect) + len(in.create)
	if in.disconnectAll {
		ops++
	}
	if ops > 1 || len(in.disconnect) > 0 {
		return nil, &ValidationError{
			Message: "only one of connect, create or disconnect may be provided for a to-one relationship on update",
			Field:   field.Key,
		}
	}
	switch {
	case in.disconnectAll:
		return store.ExplicitNull, nil
	case len(in.connect) == 1:
		return p.connectOne(ctx, field.Related(), in.connect[0], st)
	case len(in.create) == 1:
		item, err := p.nestedCreate(ctx, field.Related(), in.create[0], st)
		if err != nil {
			return nil, err
		}
		return item[field.Related().IDColumn()], nil
	default:
		return nil, nil
	}
}

// relateToManyForCreate accepts connect and create sets and resolves them
// into the membership the write executor links after the parent exists.
func (p *Pipeline) relateToManyForCreate(ctx context.Context, field *schema.Field, in nestedInput, st *opState) (any, error) {
	if len(in.disconnect) > 0 || in.set != nil {
		return nil, &ValidationError{
			Message: "disconnect and set are not valid on create",
			Field:   field.Key,
		}
	}
	ids, err := p.resolveMembers(ctx, field, in.connect, in.create, st)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return store.RelationUpdate{
		Table:      field.Related().Table,
		ForeignKey: field.ForeignKey,
		Connect:    ids,
	}, nil
}

// relateToManyForUpdate additionally accepts disconnect and set. set
// replaces the full membership and cannot be combined with the others.
func (p *Pipeline) relateToManyForUpdate(ctx context.Context, field *schema.Field, in nestedInput, st *opState) (any, error) {
	if in.set != nil && (len(in.connect) > 0 || len(in.create) > 0 || len(in.disconnect) > 0) {
		return nil, &ValidationError{
			Message: "set cannot be combined with connect, create or disconnect",
			Field:   field.Key,
		}
	}

	if in.set != nil {
		ids, err := p.resolveMembers(ctx, field, *in.set, nil, st)
		if err != nil {
			return nil, err
		}
		return store.RelationUpdate{
			Table:      field.Related().Table,
			ForeignKey: field.ForeignKey,
			Set:        &ids,
		}, nil
	}

	connectIDs, err := p.resolveMembers(ctx, field, in.connect, in.create, st)
	if err != nil {
		return nil, err
	}
	disconnectIDs, err := p.resolveMembers(ctx, field, in.disconnect, nil, st)
	if err != nil {
		return nil, err
	}
	if len(connectIDs) == 0 && len(disconnectIDs) == 0 {
		return nil, nil
	}
	return store.RelationUpdate{
		Table:      field.Related().Table,
		ForeignKey: field.ForeignKey,
		Connect:    connectIDs,
		Disconnect: disconnectIDs,
	}, nil
}

// resolveMembers resolves connect references and nested creates to related
// ids, collecting every failing element before reporting.
func (p *Pipeline) resolveMembers(ctx context.Context, field *schema.Field, connects, creates []map[string]any, st *opState) ([]any, error) {
	var ids []any
	var errs []error
	for i, uniqueInput := range connects {
		id, err := p.connectOne(ctx, field.Related(), uniqueInput, st)
		if err != nil {
			errs = append(errs, fmt.Errorf("connect[%d]: %w", i, err))
			continue
		}
		ids = append(ids, id)
	}
	for i, data := range creates {
		item, err := p.nestedCreate(ctx, field.Related(), data, st)
		if err != nil {
			errs = append(errs, fmt.Errorf("create[%d]: %w", i, err))
			continue
		}
		ids = append(ids, item[field.Related().IDColumn()])
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ids, nil
}

// connectOne resolves a unique reference on the related list and verifies
// the row is visible to the acting identity before linking it.
func (p *Pipeline) connectOne(ctx context.Context, related *schema.List, uniqueInput map[string]any, st *opState) (any, error) {
	where, err := resolveUniqueWhere(related, uniqueInput)
	if err != nil {
		return nil, err
	}
	filter := p.gate.RowFilter(ctx, related, schema.OpUpdate, st.session)
	item, err := p.loadAccessibleItem(ctx, related, schema.OpUpdate, where, filter)
	if err != nil {
		return nil, err
	}
	return item[related.IDColumn()], nil
}

// nestedCreate runs the related list's own create pipeline. The created
// row is durable immediately (its id is needed for linking), but its
// afterOperation side effects are deferred into the shared nested state
// and fire only after the outermost write commits.
func (p *Pipeline) nestedCreate(ctx context.Context, related *schema.List, input map[string]any, st *opState) (store.Item, error) {
	if !p.gate.OperationAllowed(ctx, related, schema.OpCreate, st.session) {
		return nil, &AccessDeniedError{List: related.Key, Operation: schema.OpCreate.String()}
	}
	if err := p.gate.CreateInputAllowed(ctx, related, st.session, input); err != nil {
		return nil, &AccessDeniedError{List: related.Key, Operation: schema.OpCreate.String()}
	}
	child := &opState{session: st.session, nested: st.nested}
	return p.createItem(ctx, related, input, child, true)
}
