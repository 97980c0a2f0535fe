package graphqlapi

import (
	"errors"

	"github.com/leopoldkristjansson/keystone/internal/mutation"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

const (
	errCodeInvalidInput        = "invalid_input"
	errCodeAccessDenied        = "access_denied"
	errCodeUniqueViolation     = "unique_violation"
	errCodeConstraintViolation = "constraint_violation"
	errCodeHookFailure         = "hook_failure"
	errCodeInternal            = "internal"
)

// errorDetails flattens the pipeline's error taxonomy into payload entries.
// Aggregated phase errors contribute one entry per failing field so the
// client sees every failure, not just the first.
func errorDetails(err error) []map[string]interface{} {
	if err == nil {
		return nil
	}

	var resolverErrs *mutation.ResolverErrors
	if errors.As(err, &resolverErrs) {
		return failureDetails(resolverErrs.Failures)
	}
	var relationErrs *mutation.RelationshipErrors
	if errors.As(err, &relationErrs) {
		return failureDetails(relationErrs.Failures)
	}
	var validationErrs *mutation.ValidationErrors
	if errors.As(err, &validationErrs) {
		return failureDetails(validationErrs.Failures)
	}

	return []map[string]interface{}{errorDetail(err)}
}

func failureDetails(failures []mutation.FieldFailure) []map[string]interface{} {
	details := make([]map[string]interface{}, 0, len(failures))
	for _, f := range failures {
		detail := errorDetail(f.Err)
		if detail["field"] == nil && f.Field != "" {
			detail["field"] = f.Field
		}
		details = append(details, detail)
	}
	return details
}

func errorDetail(err error) map[string]interface{} {
	detail := map[string]interface{}{
		"code":    classifyError(err),
		"message": err.Error(),
		"field":   nil,
	}

	var validationErr *mutation.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		detail["field"] = validationErr.Field
	}
	var extensionErr *mutation.ExtensionError
	if errors.As(err, &extensionErr) && extensionErr.Field != "" {
		detail["field"] = extensionErr.Field
	}

	if detail["code"] == errCodeInternal {
		// Internal details stay in the logs, not the API response.
		detail["message"] = "internal server error"
	}
	return detail
}

func classifyError(err error) string {
	var accessErr *mutation.AccessDeniedError
	if errors.As(err, &accessErr) {
		return errCodeAccessDenied
	}
	var deniedErr *store.DeniedError
	if errors.As(err, &deniedErr) {
		return errCodeAccessDenied
	}
	var conflictErr *store.ConflictError
	if errors.As(err, &conflictErr) {
		return errCodeUniqueViolation
	}
	var constraintErr *store.ConstraintError
	if errors.As(err, &constraintErr) {
		return errCodeConstraintViolation
	}
	var extensionErr *mutation.ExtensionError
	if errors.As(err, &extensionErr) {
		return errCodeHookFailure
	}
	var validationErr *mutation.ValidationError
	if errors.As(err, &validationErr) {
		return errCodeInvalidInput
	}
	return errCodeInternal
}
