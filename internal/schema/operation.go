package schema

// Operation is the fixed set of mutation kinds the pipeline understands.
// Hook and resolver capabilities are looked up per (phase, Operation).
type Operation int

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}
