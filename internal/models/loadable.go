package models

// LoadState tags a Loadable.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not loaded"
	}
}

// Loadable holds a value read from the chain together with how the last
// read went. A failed read keeps the previous value (if any) in Value with
// HasValue set, so callers can keep showing it.
type Loadable[T any] struct {
	State    LoadState
	Value    T
	HasValue bool
	Err      error
}

// Load marks v as freshly loaded.
func Load[T any](v T) Loadable[T] {
	return Loadable[T]{State: Loaded, Value: v, HasValue: true}
}

// Fail records err and keeps the previous value.
func (l Loadable[T]) Fail(err error) Loadable[T] {
	return Loadable[T]{State: Failed, Value: l.Value, HasValue: l.HasValue, Err: err}
}

// Get returns the last good value and whether there is one.
func (l Loadable[T]) Get() (T, bool) {
	return l.Value, l.HasValue
}
