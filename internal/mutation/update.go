package mutation

import (
	"context"
	"time"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// UpdateOne updates the item matching the unique input on the named list.
func (p *Pipeline) UpdateOne(ctx context.Context, listKey string, uniqueInput, input map[string]any, session any) (store.Item, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	st := newOpState(session)
	ctx, span := p.startSpan(ctx, list, schema.OpUpdate)
	start := time.Now()
	item, err := p.updateOneItem(ctx, list, uniqueInput, input, st)
	p.recordOperation(ctx, list, schema.OpUpdate, start, err)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	p.drainNested(ctx, list, st)
	return item, nil
}

// UpdateManyInput is one entry of an update batch.
type UpdateManyInput struct {
	Unique map[string]any
	Data   map[string]any
}

// UpdateMany updates a batch of items with per-item failure isolation.
// The access decisions are computed once for the batch and reused.
func (p *Pipeline) UpdateMany(ctx context.Context, listKey string, inputs []UpdateManyInput, session any) ([]ItemResult, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	allowed := p.gate.OperationAllowed(ctx, list, schema.OpUpdate, session)
	filter := p.gate.RowFilter(ctx, list, schema.OpUpdate, session)
	if p.metrics != nil {
		p.metrics.RecordBatch(ctx, list.Key, schema.OpUpdate.String(), len(inputs))
	}

	results := make([]ItemResult, len(inputs))
	for i, in := range inputs {
		st := newOpState(session)
		st.opAllowed = &allowed
		st.filter = &filter
		itemCtx, span := p.startSpan(ctx, list, schema.OpUpdate)
		start := time.Now()
		item, err := p.updateOneItem(itemCtx, list, in.Unique, in.Data, st)
		p.recordOperation(itemCtx, list, schema.OpUpdate, start, err)
		endSpan(span, err)
		if err != nil {
			results[i] = ItemResult{Err: err}
			continue
		}
		p.drainNested(itemCtx, list, st)
		results[i] = ItemResult{Item: item}
	}
	return results, nil
}

func (p *Pipeline) updateOneItem(ctx context.Context, list *schema.List, uniqueInput, input map[string]any, st *opState) (store.Item, error) {
	where, err := resolveUniqueWhere(list, uniqueInput)
	if err != nil {
		return nil, err
	}
	if !st.operationAllowed(ctx, p, list, schema.OpUpdate) {
		return nil, &AccessDeniedError{List: list.Key, Operation: schema.OpUpdate.String()}
	}

	filter := st.rowFilter(ctx, p, list, schema.OpUpdate)
	existing, err := p.loadAccessibleItem(ctx, list, schema.OpUpdate, where, filter)
	if err != nil {
		return nil, err
	}

	args := &schema.HookArgs{
		Operation: schema.OpUpdate,
		List:      list,
		Session:   st.session,
		Input:     input,
		Resolved:  store.Item{},
		Existing:  existing,
	}

	if err := p.resolveFields(ctx, args, st); err != nil {
		return nil, err
	}
	if err := p.runResolveInput(ctx, args); err != nil {
		return nil, err
	}
	if err := p.runValidate(ctx, args); err != nil {
		return nil, err
	}
	if err := p.runBeforeOperation(ctx, args); err != nil {
		return nil, err
	}

	canonical := store.Where{list.IDColumn(): existing[list.IDColumn()]}
	item, err := p.executeWrite(ctx, list, schema.OpUpdate, canonical, args.Resolved)
	if err != nil {
		return nil, err
	}

	args.Item = item
	p.runAfterOperation(ctx, args)
	return item, nil
}
