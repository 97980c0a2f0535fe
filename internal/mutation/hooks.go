package mutation

import (
	"context"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// The lifecycle phases run in a fixed order around the write:
//
//	resolveInput (field, then list)
//	validate     (field, then list)
//	beforeOperation (list, then field)
//	[write]
//	afterOperation  (list, then field)
//
// The field/list ordering flips between the input phases and the
// operation phases. That asymmetry is load-bearing for existing hook
// implementations and is pinned by a test; do not "fix" it.

// runResolveInput lets field hooks rewrite their own resolved value and
// the list hook rewrite the whole tree. Field hook failures are collected
// across all fields before one combined error is raised; the list hook
// only runs when every field hook succeeded.
func (p *Pipeline) runResolveInput(ctx context.Context, args *schema.HookArgs) error {
	list := args.List
	var failures []FieldFailure

	for _, key := range list.FieldKeys() {
		hook := list.Fields[key].Hooks.ResolveInput[args.Operation]
		if hook == nil {
			continue
		}
		args.FieldKey = key
		value, err := hook(ctx, args)
		args.FieldKey = ""
		if err != nil {
			failures = append(failures, FieldFailure{
				Field: key,
				Err:   &ExtensionError{Hook: "resolveInput", Field: key, Err: err},
			})
			continue
		}
		if value != nil {
			args.Resolved[key] = value
		}
	}
	if len(failures) > 0 {
		return &ResolverErrors{Failures: failures}
	}

	if hook := list.Hooks.ResolveInput[args.Operation]; hook != nil {
		resolved, err := hook(ctx, args)
		if err != nil {
			return &ExtensionError{Hook: "resolveInput", Err: err}
		}
		if resolved != nil {
			args.Resolved = resolved
		}
	}
	return nil
}

// runValidate collects every validation failure, required-field checks
// and field hooks first and the list hook after, before raising one
// combined error. The list hook always runs: cross-field validation needs
// the fully-resolved tree even when a field-level check already rejected.
func (p *Pipeline) runValidate(ctx context.Context, args *schema.HookArgs) error {
	list := args.List
	var failures []FieldFailure

	failures = append(failures, requiredFieldFailures(args)...)

	for _, key := range list.FieldKeys() {
		hook := list.Fields[key].Hooks.Validate[args.Operation]
		if hook == nil {
			continue
		}
		args.FieldKey = key
		err := hook(ctx, args)
		args.FieldKey = ""
		if err != nil {
			failures = append(failures, FieldFailure{Field: key, Err: err})
		}
	}

	if hook := list.Hooks.Validate[args.Operation]; hook != nil {
		if err := hook(ctx, args); err != nil {
			failures = append(failures, FieldFailure{Err: err})
		}
	}

	if p.metrics != nil && len(failures) > 0 {
		p.metrics.RecordFieldErrors(ctx, list.Key, "validate", len(failures))
	}
	if len(failures) > 0 {
		return &ValidationErrors{Failures: failures}
	}
	return nil
}

// requiredFieldFailures rejects a create whose resolved tree misses a
// required field (defaults and resolvers have already run), and an update
// that nulls one out. An update that leaves the key untouched is fine.
func requiredFieldFailures(args *schema.HookArgs) []FieldFailure {
	var failures []FieldFailure
	for _, key := range args.List.FieldKeys() {
		if !args.List.Fields[key].Required {
			continue
		}
		value, present := args.Resolved[key]
		isNull := present && (value == nil || store.IsExplicitNull(value))

		switch {
		case args.Operation == schema.OpCreate && (!present || isNull):
			failures = append(failures, FieldFailure{
				Field: key,
				Err:   &ValidationError{Message: "missing required value", Field: key},
			})
		case args.Operation == schema.OpUpdate && isNull:
			failures = append(failures, FieldFailure{
				Field: key,
				Err:   &ValidationError{Message: "required value cannot be null", Field: key},
			})
		}
	}
	return failures
}

// runBeforeOperation runs the list hook, then field hooks. The first
// failure aborts: this phase is side-effect territory and fail-fast.
func (p *Pipeline) runBeforeOperation(ctx context.Context, args *schema.HookArgs) error {
	list := args.List
	if hook := list.Hooks.BeforeOperation[args.Operation]; hook != nil {
		if err := hook(ctx, args); err != nil {
			return &ExtensionError{Hook: "beforeOperation", Err: err}
		}
	}
	for _, key := range list.FieldKeys() {
		hook := list.Fields[key].Hooks.BeforeOperation[args.Operation]
		if hook == nil {
			continue
		}
		args.FieldKey = key
		err := hook(ctx, args)
		args.FieldKey = ""
		if err != nil {
			return &ExtensionError{Hook: "beforeOperation", Field: key, Err: err}
		}
	}
	return nil
}

// runAfterOperation runs the list hook, then field hooks. The write is
// already durable, so failures are logged and do not surface.
func (p *Pipeline) runAfterOperation(ctx context.Context, args *schema.HookArgs) {
	list := args.List
	if hook := list.Hooks.AfterOperation[args.Operation]; hook != nil {
		if err := hook(ctx, args); err != nil {
			p.log.ErrorContext(ctx, "afterOperation hook failed",
				"list", list.Key, "operation", args.Operation.String(), "error", err)
		}
	}
	for _, key := range list.FieldKeys() {
		hook := list.Fields[key].Hooks.AfterOperation[args.Operation]
		if hook == nil {
			continue
		}
		args.FieldKey = key
		err := hook(ctx, args)
		args.FieldKey = ""
		if err != nil {
			p.log.ErrorContext(ctx, "afterOperation hook failed",
				"list", list.Key, "operation", args.Operation.String(), "field", key, "error", err)
		}
	}
}
