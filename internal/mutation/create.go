package mutation

import (
	"context"
	"time"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// CreateOne creates a single item on the named list.
func (p *Pipeline) CreateOne(ctx context.Context, listKey string, input map[string]any, session any) (store.Item, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	st := newOpState(session)
	ctx, span := p.startSpan(ctx, list, schema.OpCreate)
	start := time.Now()
	item, err := p.createOneItem(ctx, list, input, st)
	p.recordOperation(ctx, list, schema.OpCreate, start, err)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	p.drainNested(ctx, list, st)
	return item, nil
}

// CreateMany creates a batch of items. The operation-access decision is
// computed once for the batch but enforced per item; one item's failure
// never affects its siblings, and the returned slice holds one outcome
// per input in order.
func (p *Pipeline) CreateMany(ctx context.Context, listKey string, inputs []map[string]any, session any) ([]ItemResult, error) {
	list, err := p.list(listKey)
	if err != nil {
		return nil, err
	}
	allowed := p.gate.OperationAllowed(ctx, list, schema.OpCreate, session)
	if p.metrics != nil {
		p.metrics.RecordBatch(ctx, list.Key, schema.OpCreate.String(), len(inputs))
	}

	results := make([]ItemResult, len(inputs))
	for i, input := range inputs {
		st := newOpState(session)
		st.opAllowed = &allowed
		itemCtx, span := p.startSpan(ctx, list, schema.OpCreate)
		start := time.Now()
		item, err := p.createOneItem(itemCtx, list, input, st)
		p.recordOperation(itemCtx, list, schema.OpCreate, start, err)
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

func (p *Pipeline) createOneItem(ctx context.Context, list *schema.List, input map[string]any, st *opState) (store.Item, error) {
	if !st.operationAllowed(ctx, p, list, schema.OpCreate) {
		return nil, &AccessDeniedError{List: list.Key, Operation: schema.OpCreate.String()}
	}
	if err := p.gate.CreateInputAllowed(ctx, list, st.session, input); err != nil {
		return nil, &AccessDeniedError{List: list.Key, Operation: schema.OpCreate.String()}
	}
	return p.createItem(ctx, list, input, st, false)
}

// createItem is the create state machine shared by top-level and nested
// creates. deferAfter moves the afterOperation phase into the shared
// nested state so it only fires once the outermost write commits.
func (p *Pipeline) createItem(ctx context.Context, list *schema.List, input map[string]any, st *opState, deferAfter bool) (store.Item, error) {
	args := &schema.HookArgs{
		Operation: schema.OpCreate,
		List:      list,
		Session:   st.session,
		Input:     input,
		Resolved:  store.Item{},
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

	item, err := p.executeWrite(ctx, list, schema.OpCreate, nil, args.Resolved)
	if err != nil {
		return nil, err
	}

	args.Item = item
	if deferAfter {
		st.nested.deferEffect(func(ctx context.Context) error {
			p.runAfterOperation(ctx, args)
			return nil
		})
	} else {
		p.runAfterOperation(ctx, args)
	}
	return item, nil
}

func (p *Pipeline) recordOperation(ctx context.Context, list *schema.List, op schema.Operation, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordOperation(ctx, list.Key, op.String(), time.Since(start), err != nil)
}
