package graph

// Status is the lifecycle position of a module node. Transitions are
// monotonic except for the explicit reset to StatusKnown after a failed
// fetch.
type Status int

const (
	// StatusUnknown is the zero value; nodes never persist in it.
	StatusUnknown Status = iota
	// StatusKnown means the node exists but its content has not arrived.
	StatusKnown
	// StatusContentLoaded means the unit was fetched and its edges are set.
	StatusContentLoaded
	// StatusMustsLoaded means every must-dependency is declared or
	// cycle-satisfied.
	StatusMustsLoaded
	// StatusDeclared means the module's init ran and it is usable.
	StatusDeclared
	// StatusOptionalsLoaded means best-effort optional loads completed.
	StatusOptionalsLoaded
)

func (s Status) String() string {
	switch s {
	case StatusKnown:
		return "known"
	case StatusContentLoaded:
		return "content_loaded"
	case StatusMustsLoaded:
		return "musts_loaded"
	case StatusDeclared:
		return "declared"
	case StatusOptionalsLoaded:
		return "optionals_loaded"
	default:
		return "unknown"
	}
}
