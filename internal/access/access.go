// Package access decides whether an operation may run at all and which
// rows it may touch. Decisions are pure; the access-controlled row reload
// that enforces them against the store lives in the mutation pipeline.
package access

import (
	"context"
	"log/slog"

	"github.com/leopoldkristjansson/keystone/internal/schema"
)

// Gate evaluates a list's access configuration for an acting session.
type Gate struct {
	log *slog.Logger
}

// NewGate returns a gate. logger may be nil.
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{log: logger}
}

// OperationAllowed reports whether the operation kind is permitted for
// this session, ignoring row identity. Callers evaluate it once per batch
// and reuse the decision for every item.
func (g *Gate) OperationAllowed(ctx context.Context, list *schema.List, op schema.Operation, session any) bool {
	if list.Access.Operation == nil {
		return true
	}
	allowed := list.Access.Operation(ctx, op, session)
	if !allowed {
		g.log.DebugContext(ctx, "operation access denied",
			slog.String("list", list.Key),
			slog.String("operation", op.String()),
		)
	}
	return allowed
}

// RowFilter computes the row-level restriction for op. A Filter with
// Allow=false means nothing is visible and must be rejected before any
// store call. Create operations have no pre-existing row; callers use
// CreateInputAllowed instead.
func (g *Gate) RowFilter(ctx context.Context, list *schema.List, op schema.Operation, session any) schema.Filter {
	if list.Access.Filter == nil {
		return schema.FilterAll()
	}
	return list.Access.Filter(ctx, op, session)
}

// CreateInputAllowed runs the create-specific authorization hook over the
// raw input. A nil hook allows.
func (g *Gate) CreateInputAllowed(ctx context.Context, list *schema.List, session any, input map[string]any) error {
	if list.Access.CreateInput == nil {
		return nil
	}
	return list.Access.CreateInput(ctx, session, input)
}
