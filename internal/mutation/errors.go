package mutation

import (
	"fmt"
	"strings"
)

// AccessDeniedError reports an operation-level or row-level denial. The
// row-level variant is deliberately identical in shape whether the row is
// forbidden or simply absent, so callers cannot probe for existence.
type AccessDeniedError struct {
	List      string
	Operation string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: you cannot %s that %s", e.Operation, e.List)
}

// ValidationError reports malformed input: a bad unique-target shape, an
// unparseable identifier, or a validation hook rejection. Field localizes
// the failure when one field is responsible.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (field %q)", e.Message, e.Field)
	}
	return e.Message
}

// FieldFailure ties one field's error to its tag for aggregation.
type FieldFailure struct {
	Field string
	Err   error
}

// ResolverErrors aggregates input-resolver failures from one resolution
// pass. Every failing field appears; the pass never stops at the first.
type ResolverErrors struct {
	Failures []FieldFailure
}

func (e *ResolverErrors) Error() string {
	return "an error occurred while resolving input fields: " + joinFieldTags(e.Failures)
}

// RelationshipErrors aggregates nested-mutation failures, kept distinct
// from plain field failures so a client can tell "this field's resolver
// failed" from "a related-list operation failed".
type RelationshipErrors struct {
	Failures []FieldFailure
}

func (e *RelationshipErrors) Error() string {
	return "an error occurred while resolving relationship fields: " + joinFieldTags(e.Failures)
}

// ValidationErrors aggregates validate-hook failures across all fields
// and the list, raised as one combined failure after the whole phase.
type ValidationErrors struct {
	Failures []FieldFailure
}

func (e *ValidationErrors) Error() string {
	return "the operation failed validation: " + joinFieldTags(e.Failures)
}

// ExtensionError reports a resolveInput hook that threw.
type ExtensionError struct {
	Hook  string
	Field string // empty for the list-level hook
	Err   error
}

func (e *ExtensionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("an error was thrown by the %s hook on field %q: %v", e.Hook, e.Field, e.Err)
	}
	return fmt.Sprintf("an error was thrown by the %s hook: %v", e.Hook, e.Err)
}

func (e *ExtensionError) Unwrap() error { return e.Err }

// WriteError wraps a store failure for the single persisted write.
type WriteError struct {
	List      string
	Operation string
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Operation, e.List, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func joinFieldTags(failures []FieldFailure) string {
	tags := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.Field == "" {
			tags = append(tags, f.Err.Error())
			continue
		}
		tags = append(tags, fmt.Sprintf("%s: %v", f.Field, f.Err))
	}
	return strings.Join(tags, "; ")
}
