package store

// ConflictError reports a unique-constraint violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ConstraintError reports a foreign-key or not-null violation.
type ConstraintError struct {
	Message string
}

func (e *ConstraintError) Error() string { return e.Message }

// DeniedError reports that the store itself refused the statement for the
// connection's credentials.
type DeniedError struct {
	Message string
}

func (e *DeniedError) Error() string { return e.Message }
