package channel

import (
	"maps"
	"slices"
)

// Snapshot is a read-only view of channel values taken at the start of a
// superstep. Container values are copied on every read, so callers may
// mutate what they get back without affecting other readers.
type Snapshot struct {
	values map[string]any
}

// NewSnapshot builds a snapshot over a copy of values.
func NewSnapshot(values map[string]any) Snapshot {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = cloneValue(v)
	}
	return Snapshot{values: out}
}

// Get returns the value of a channel and whether it is set.
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s.values[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Has reports whether the channel holds a value.
func (s Snapshot) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Int returns an int channel value.
func (s Snapshot) Int(name string) (int, bool) {
	v, ok := s.values[name].(int)
	return v, ok
}

// Float returns a float channel value.
func (s Snapshot) Float(name string) (float64, bool) {
	v, ok := s.values[name].(float64)
	return v, ok
}

// String returns a string channel value.
func (s Snapshot) String(name string) (string, bool) {
	v, ok := s.values[name].(string)
	return v, ok
}

// Bool returns a bool channel value.
func (s Snapshot) Bool(name string) (bool, bool) {
	v, ok := s.values[name].(bool)
	return v, ok
}

// List returns a copy of a list channel value.
func (s Snapshot) List(name string) ([]any, bool) {
	v, ok := s.values[name].([]any)
	if !ok {
		return nil, false
	}
	return cloneValue(v).([]any), true
}

// Names returns the set channel names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of set channels.
func (s Snapshot) Len() int { return len(s.values) }

// Values returns a deep copy of all set values.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Restrict returns a view limited to names. Values are shared with s, which
// is safe because every accessor copies.
func (s Snapshot) Restrict(names []string) Snapshot {
	out := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := s.values[n]; ok {
			out[n] = v
		}
	}
	return Snapshot{values: out}
}
