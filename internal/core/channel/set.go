package channel

import (
	"fmt"
)

// Set holds the channels of one execution in declaration order.
type Set struct {
	order  []*Channel
	byName map[string]*Channel
}

// NewSet creates empty channels for specs.
func NewSet(specs []Spec) (*Set, error) {
	s := &Set{
		order:  make([]*Channel, 0, len(specs)),
		byName: make(map[string]*Channel, len(specs)),
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
		}
		ch := New(spec)
		s.order = append(s.order, ch)
		s.byName[spec.Name] = ch
	}
	return s, nil
}

// Get returns a channel by name.
func (s *Set) Get(name string) (*Channel, bool) {
	ch, ok := s.byName[name]
	return ch, ok
}

// Specs returns the declarations in order.
func (s *Set) Specs() []Spec {
	out := make([]Spec, len(s.order))
	for i, ch := range s.order {
		out[i] = ch.spec
	}
	return out
}

// Snapshot captures the current values.
func (s *Set) Snapshot() Snapshot {
	return Snapshot{values: s.Values()}
}

// BeginStep applies every channel's start-of-superstep policy.
func (s *Set) BeginStep() {
	for _, ch := range s.order {
		ch.BeginStep()
	}
}

// Apply merges grouped writes into the channels and returns the names of the
// channels that changed, in declaration order. Every changed channel is given
// the version max(all versions)+1. Writes must already be in merge order.
func (s *Set) Apply(updates map[string][]any) ([]string, error) {
	for name := range updates {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
		}
	}
	next := s.MaxVersion() + 1
	var changed []string
	for _, ch := range s.order {
		values, ok := updates[ch.spec.Name]
		if !ok {
			continue
		}
		didChange, err := ch.Update(values)
		if err != nil {
			return nil, err
		}
		if didChange {
			ch.version = next
			changed = append(changed, ch.spec.Name)
		}
	}
	return changed, nil
}

// Overwrite replaces channel values bypassing reducers, bumping versions the
// same way Apply does.
func (s *Set) Overwrite(values map[string]any) ([]string, error) {
	for name := range values {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
		}
	}
	next := s.MaxVersion() + 1
	var changed []string
	for _, ch := range s.order {
		v, ok := values[ch.spec.Name]
		if !ok {
			continue
		}
		if err := ch.Overwrite(v); err != nil {
			return nil, err
		}
		ch.version = next
		changed = append(changed, ch.spec.Name)
	}
	return changed, nil
}

// MaxVersion returns the largest channel version.
func (s *Set) MaxVersion() int64 {
	var highest int64
	for _, ch := range s.order {
		highest = max(highest, ch.version)
	}
	return highest
}

// Values returns the checkpoint value of every non-empty channel.
func (s *Set) Values() map[string]any {
	out := make(map[string]any, len(s.order))
	for _, ch := range s.order {
		if v, ok := ch.Checkpoint(); ok {
			out[ch.spec.Name] = v
		}
	}
	return out
}

// Versions returns the version of every channel that has been written.
func (s *Set) Versions() map[string]int64 {
	out := make(map[string]int64, len(s.order))
	for _, ch := range s.order {
		if ch.version > 0 {
			out[ch.spec.Name] = ch.version
		}
	}
	return out
}

// Restore reconstructs every channel from checkpointed values and versions.
// Channels missing from values are emptied. Values for undeclared channels
// are ignored so that a graph can drop a channel without breaking history.
func (s *Set) Restore(values map[string]any, versions map[string]int64) error {
	for _, ch := range s.order {
		if err := ch.Restore(values[ch.spec.Name]); err != nil {
			return err
		}
		ch.version = versions[ch.spec.Name]
	}
	return nil
}
