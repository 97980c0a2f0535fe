package mutation

import (
	"context"
	"time"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// DeleteOne deletes the item matching the unique input on the named list
// and returns the deleted row.
func (p *Pipeline) DeleteOne(ctx context.Context, listKey string, uniqueInput map[string]any, session any) (store.Item, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	st := newOpState(session)
	ctx, span := p.startSpan(ctx, list, schema.OpDelete)
	start := time.Now()
	item, err := p.deleteOneItem(ctx, list, uniqueInput, st)
	p.recordOperation(ctx, list, schema.OpDelete, start, err)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	p.drainNested(ctx, list, st)
	return item, nil
}

// DeleteMany deletes a batch of items with per-item failure isolation.
func (p *Pipeline) DeleteMany(ctx context.Context, listKey string, uniqueInputs []map[string]any, session any) ([]ItemResult, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	allowed := p.gate.OperationAllowed(ctx, list, schema.OpDelete, session)
	filter := p.gate.RowFilter(ctx, list, schema.OpDelete, session)
	if p.metrics != nil {
		p.metrics.RecordBatch(ctx, list.Key, schema.OpDelete.String(), len(uniqueInputs))
	}

	results := make([]ItemResult, len(uniqueInputs))
	for i, uniqueInput := range uniqueInputs {
		st := newOpState(session)
		st.opAllowed = &allowed
		st.filter = &filter
		itemCtx, span := p.startSpan(ctx, list, schema.OpDelete)
		start := time.Now()
		item, err := p.deleteOneItem(itemCtx, list, uniqueInput, st)
		p.recordOperation(itemCtx, list, schema.OpDelete, start, err)
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

// deleteOneItem runs the delete state machine. There is no input to
// resolve, so the lifecycle starts at validate; the remaining phases run
// in the same order as create and update.
func (p *Pipeline) deleteOneItem(ctx context.Context, list *schema.List, uniqueInput map[string]any, st *opState) (store.Item, error) {
	where, err := resolveUniqueWhere(list, uniqueInput)
	if err != nil {
		return nil, err
	}
	if !st.operationAllowed(ctx, p, list, schema.OpDelete) {
		return nil, &AccessDeniedError{List: list.Key, Operation: schema.OpDelete.String()}
	}

	filter := st.rowFilter(ctx, p, list, schema.OpDelete)
	existing, err := p.loadAccessibleItem(ctx, list, schema.OpDelete, where, filter)
	if err != nil {
		return nil, err
	}

	args := &schema.HookArgs{
		Operation: schema.OpDelete,
		List:      list,
		Session:   st.session,
		Existing:  existing,
	}

	if err := p.runValidate(ctx, args); err != nil {
		return nil, err
	}
	if err := p.runBeforeOperation(ctx, args); err != nil {
		return nil, err
	}

	canonical := store.Where{list.IDColumn(): existing[list.IDColumn()]}
	item, err := p.executeWrite(ctx, list, schema.OpDelete, canonical, nil)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = existing
	}

	args.Item = item
	p.runAfterOperation(ctx, args)
	return item, nil
}
