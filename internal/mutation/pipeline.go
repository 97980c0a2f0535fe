// Package mutation turns one logical create, update, or delete request
// against a list into access checks, field and list lifecycle hooks,
// nested-relationship resolution, and a single persisted write per item.
package mutation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leopoldkristjansson/keystone/internal/access"
	"github.com/leopoldkristjansson/keystone/internal/observability"
	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

var tracer = otel.Tracer("keystone/mutation")

// Pipeline composes the mutation components into the public entry points.
type Pipeline struct {
	reg     *schema.Registry
	store   store.Store
	gate    *access.Gate
	log     *slog.Logger
	metrics *observability.MutationMetrics
}

// New builds a pipeline. logger and metrics may be nil.
func New(reg *schema.Registry, st store.Store, gate *access.Gate, logger *slog.Logger, metrics *observability.MutationMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = access.NewGate(logger)
	}
	return &Pipeline{reg: reg, store: st, gate: gate, log: logger, metrics: metrics}
}

// ItemResult is one batch outcome: either Item or Err, never both.
type ItemResult struct {
	Item store.Item
	Err  error
}

// opState is the per-top-level-mutation working state. It owns the
// deferred nested side effects and the batch-scoped access decisions; it
// is destroyed when the top-level call returns.
type opState struct {
	session any
	nested  *nestedState

	// Batch-level access decisions, computed once and reused per item.
	// Nil pointers mean "not yet computed" (single-item calls).
	opAllowed *bool
	filter    *schema.Filter
}

func newOpState(session any) *opState {
	return &opState{session: session, nested: &nestedState{}}
}

// nestedState accumulates deferred afterOperation callbacks from nested
// creates. It is owned by one top-level mutation, threaded by reference
// through all recursive nested-list calls, and drained exactly once after
// the outermost write commits.
type nestedState struct {
	deferred []func(ctx context.Context) error
}

func (s *nestedState) deferEffect(fn func(ctx context.Context) error) {
	s.deferred = append(s.deferred, fn)
}

// drain runs and clears the deferred callbacks. Hook failures after a
// durable commit are logged, not surfaced: the write already happened.
func (s *nestedState) drain(ctx context.Context, log *slog.Logger) {
	effects := s.deferred
	s.deferred = nil
	for _, fn := range effects {
		if err := fn(ctx); err != nil {
			log.ErrorContext(ctx, "deferred afterOperation hook failed after commit",
				slog.Any("error", err))
		}
	}
}

// startSpan opens one span per item operation. Batch calls produce one
// span per item, not per call.
func (p *Pipeline) startSpan(ctx context.Context, list *schema.List, op schema.Operation) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mutation."+op.String(),
		trace.WithAttributes(
			attribute.String("list", list.Key),
			attribute.String("operation", op.String()),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// drainNested records and runs the deferred nested effects for one
// committed top-level item.
func (p *Pipeline) drainNested(ctx context.Context, list *schema.List, st *opState) {
	if p.metrics != nil && len(st.nested.deferred) > 0 {
		p.metrics.RecordNestedEffects(ctx, list.Key, len(st.nested.deferred))
	}
	st.nested.drain(ctx, p.log)
}

func (p *Pipeline) list(key string) (*schema.List, error) {
	l := p.reg.Get(key)
	if l == nil {
		return nil, &ValidationError{Message: "unknown list " + key}
	}
	return l, nil
}

func (st *opState) operationAllowed(ctx context.Context, p *Pipeline, list *schema.List, op schema.Operation) bool {
	if st.opAllowed == nil {
		allowed := p.gate.OperationAllowed(ctx, list, op, st.session)
		st.opAllowed = &allowed
	}
	return *st.opAllowed
}

func (st *opState) rowFilter(ctx context.Context, p *Pipeline, list *schema.List, op schema.Operation) schema.Filter {
	if st.filter == nil {
		f := p.gate.RowFilter(ctx, list, op, st.session)
		st.filter = &f
	}
	return *st.filter
}

// loadAccessibleItem re-reads the unique target through the store with the
// access filter merged in. A miss is reported exactly like a denial so
// hooks never observe a row the identity is not authorized to see, and
// absence cannot be distinguished from denial.
func (p *Pipeline) loadAccessibleItem(ctx context.Context, list *schema.List, op schema.Operation, uniqueWhere store.Where, filter schema.Filter) (store.Item, error) {
	denied := &AccessDeniedError{List: list.Key, Operation: op.String()}
	if !filter.Allow {
		return nil, denied
	}
	// A unique condition that contradicts the filter on a shared key can
	// never match an accessible row; deny without touching the store.
	merged, ok := store.MergeWhere(filter.Where, uniqueWhere)
	if !ok {
		return nil, denied
	}
	item, err := p.store.Collection(list.Table).FindUnique(ctx, merged)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, denied
	}
	return item, nil
}
