package mutation

import (
	"context"
	"fmt"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// serializeData converts the resolved value tree into storage-column
// form: multi-kind fields expand into fieldKey_subKey columns, and a nil
// destined for a JSON-typed column becomes the explicit set-null sentinel
// so the store can tell it apart from "column untouched".
func serializeData(list *schema.List, resolved store.Item) (store.Item, error) {
	data := make(store.Item, len(resolved))
	for key, value := range resolved {
		field, known := list.Fields[key]
		if !known {
			if key == list.IDColumn() {
				data[key] = value
				continue
			}
			return nil, &ValidationError{Message: "unknown field in resolved data", Field: key}
		}

		switch field.Kind {
		case schema.KindMulti:
			sub, ok := value.(map[string]any)
			if !ok {
				return nil, &ValidationError{Message: "multi field value must be an object", Field: key}
			}
			for _, subKey := range field.SubKeys {
				v, present := sub[subKey]
				if !present {
					continue
				}
				column := fmt.Sprintf("%s_%s", key, subKey)
				if v == nil && field.JSON {
					data[column] = store.ExplicitNull
					continue
				}
				data[column] = v
			}
		default:
			if value == nil && field.JSON {
				data[key] = store.ExplicitNull
				continue
			}
			data[key] = value
		}
	}
	return data, nil
}

// executeWrite issues the single persisted call for one item inside the
// request's write limiter, then links any to-many relation membership
// against the now-existing parent row.
func (p *Pipeline) executeWrite(ctx context.Context, list *schema.List, op schema.Operation, where store.Where, resolved store.Item) (store.Item, error) {
	limiter := store.WriteLimiterFromContext(ctx)
	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer limiter.Release()
	}

	coll := p.store.Collection(list.Table)

	if op == schema.OpDelete {
		item, err := coll.Delete(ctx, where)
		if err != nil {
			return nil, &WriteError{List: list.Key, Operation: op.String(), Err: err}
		}
		return item, nil
	}

	data, relations := dataForWrite(resolved)
	serialized, err := serializeData(list, data)
	if err != nil {
		return nil, err
	}

	var item store.Item
	switch op {
	case schema.OpCreate:
		if list.IDKind == schema.IDSingleton {
			serialized[list.IDColumn()] = 1
		}
		item, err = coll.Create(ctx, serialized)
	case schema.OpUpdate:
		item, err = coll.Update(ctx, where, serialized)
	}
	if err != nil {
		return nil, &WriteError{List: list.Key, Operation: op.String(), Err: err}
	}
	if item == nil {
		return nil, &WriteError{List: list.Key, Operation: op.String(), Err: fmt.Errorf("written row could not be loaded")}
	}

	if len(relations) > 0 {
		if err := p.applyRelationUpdates(ctx, list, item, relations); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// applyRelationUpdates links and unlinks to-many membership by rewriting
// the foreign key on the related collection. Membership ids were already
// resolved and access-checked during the relation pass.
func (p *Pipeline) applyRelationUpdates(ctx context.Context, list *schema.List, parent store.Item, updates []store.RelationUpdate) error {
	parentID := parent[list.IDColumn()]
	for _, ru := range updates {
		coll := p.store.Collection(ru.Table)

		if ru.Set != nil {
			// Replace membership: detach everything pointing at the
			// parent, then attach the new members.
			if _, err := coll.Update(ctx, store.Where{ru.ForeignKey: parentID}, store.Item{ru.ForeignKey: store.ExplicitNull}); err != nil {
				return &WriteError{List: list.Key, Operation: "set " + ru.Table, Err: err}
			}
			for _, id := range *ru.Set {
				if _, err := coll.Update(ctx, store.Where{"id": id}, store.Item{ru.ForeignKey: parentID}); err != nil {
					return &WriteError{List: list.Key, Operation: "set " + ru.Table, Err: err}
				}
			}
			continue
		}

		for _, id := range ru.Connect {
			if _, err := coll.Update(ctx, store.Where{"id": id}, store.Item{ru.ForeignKey: parentID}); err != nil {
				return &WriteError{List: list.Key, Operation: "connect " + ru.Table, Err: err}
			}
		}
		for _, id := range ru.Disconnect {
			// The foreign-key condition keeps a disconnect from touching
			// a row that meanwhile points at a different parent.
			if _, err := coll.Update(ctx, store.Where{"id": id, ru.ForeignKey: parentID}, store.Item{ru.ForeignKey: store.ExplicitNull}); err != nil {
				return &WriteError{List: list.Key, Operation: "disconnect " + ru.Table, Err: err}
			}
		}
	}
	return nil
}
