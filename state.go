package veloxrt

// EntityState is the lifecycle state of a tracked entry.
type EntityState uint8

// Entity states.
const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

var stateNames = [...]string{
	Detached:  "Detached",
	Unchanged: "Unchanged",
	Added:     "Added",
	Modified:  "Modified",
	Deleted:   "Deleted",
}

// String returns the state name.
func (s EntityState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "EntityState(?)"
}

// Is reports whether s equals o.
func (s EntityState) Is(o EntityState) bool { return s == o }

// IsModification reports whether entries in this state produce a
// modification command on save.
func (s EntityState) IsModification() bool {
	return s == Added || s == Modified || s == Deleted
}

// Verb returns the statement verb associated with the state.
func (s EntityState) Verb() string {
	switch s {
	case Added:
		return "insert"
	case Modified:
		return "update"
	case Deleted:
		return "delete"
	default:
		return "noop"
	}
}
