// Package channel implements the typed state cells that nodes of a graph
// communicate through, together with their merge policies.
package channel

import (
	"fmt"
)

// Kind is the reducer kind of a channel.
// PRINCIPLES:
// - Closed set: LastValue, BinaryOp, Topic and Ephemeral are matched exhaustively
// - A channel's kind never changes after declaration
type Kind string

const (
	// KindLastValue overwrites the value with the last write of a step.
	KindLastValue Kind = "last_value"
	// KindBinaryOp folds every write into the value with an Operator.
	KindBinaryOp Kind = "binary_op"
	// KindTopic accumulates writes in a list.
	KindTopic Kind = "topic"
	// KindEphemeral holds a value for the readers of a single superstep.
	KindEphemeral Kind = "ephemeral"
)

// Spec declares a channel.
type Spec struct {
	Name          string   `json:"name" yaml:"name"`
	Kind          Kind     `json:"kind" yaml:"kind"`
	Type          Type     `json:"type,omitempty" yaml:"type,omitempty"`
	Operator      Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	ResetEachStep bool     `json:"reset_each_step,omitempty" yaml:"reset_each_step,omitempty"`
}

// LastValue declares a last-write-wins channel.
func LastValue(name string, t Type) Spec {
	return Spec{Name: name, Kind: KindLastValue, Type: t}
}

// BinaryOp declares a channel reduced by op.
func BinaryOp(name string, t Type, op Operator) Spec {
	return Spec{Name: name, Kind: KindBinaryOp, Type: t, Operator: op}
}

// Topic declares a multi-value log of elements of type t. With reset set the
// log is emptied at the start of every superstep.
func Topic(name string, t Type, reset bool) Spec {
	return Spec{Name: name, Kind: KindTopic, Type: t, ResetEachStep: reset}
}

// Ephemeral declares a channel that is cleared one superstep after it is written.
func Ephemeral(name string, t Type) Spec {
	return Spec{Name: name, Kind: KindEphemeral, Type: t}
}

// Validate ensures spec integrity
func (s Spec) Validate() error {
	if s.Name == "" {
		return ErrInvalidName
	}
	if IsReserved(s.Name) {
		return fmt.Errorf("%w: %q", ErrReservedName, s.Name)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: channel %q has type %q", ErrUnknownType, s.Name, s.Type)
	}
	switch s.Kind {
	case KindLastValue, KindTopic, KindEphemeral:
		if s.Operator != "" {
			return fmt.Errorf("%w: channel %q of kind %s takes no operator", ErrInvalidSpec, s.Name, s.Kind)
		}
	case KindBinaryOp:
		if !s.Operator.Valid() {
			return fmt.Errorf("%w: channel %q: %q", ErrUnknownOperator, s.Name, s.Operator)
		}
		if !operatorAccepts(s.Operator, s.Type) {
			return fmt.Errorf("%w: operator %s cannot reduce %s channel %q", ErrTypeMismatch, s.Operator, s.Type, s.Name)
		}
	default:
		return fmt.Errorf("%w: channel %q has kind %q", ErrUnknownKind, s.Name, s.Kind)
	}
	if s.ResetEachStep && s.Kind != KindTopic {
		return fmt.Errorf("%w: reset_each_step applies to topics only (channel %q)", ErrInvalidSpec, s.Name)
	}
	return nil
}

// ValueType is the tag of the value readers observe.
func (s Spec) ValueType() Type {
	if s.Kind == KindTopic {
		return TypeList
	}
	return s.Type
}

// UpdateType is the tag a single write must satisfy.
func (s Spec) UpdateType() Type {
	if s.Kind == KindBinaryOp && (s.Operator == OpAppend || s.Operator == OpUnion) {
		return TypeAny
	}
	return s.Type
}

// NormalizeUpdate converts a single write to its canonical representation
// or reports a type mismatch.
func (s Spec) NormalizeUpdate(v any) (any, error) {
	if s.Kind == KindBinaryOp && (s.Operator == OpAppend || s.Operator == OpUnion) {
		if list, err := TypeList.Normalize(v); err == nil {
			return list, nil
		}
		return cloneValue(v), nil
	}
	out, err := s.Type.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", s.Name, err)
	}
	return out, nil
}

// Channel is a single named cell owned by one execution. It is not safe for
// concurrent use; the executor only mutates channels during the barrier.
type Channel struct {
	spec    Spec
	value   any
	present bool
	version int64
}

// New creates an empty channel. spec is assumed valid.
func New(spec Spec) *Channel {
	return &Channel{spec: spec}
}

// Spec returns the channel declaration.
func (c *Channel) Spec() Spec { return c.spec }

// Name returns the channel name.
func (c *Channel) Name() string { return c.spec.Name }

// Version returns the version assigned at the last change.
func (c *Channel) Version() int64 { return c.version }

// Get returns a copy of the current value.
func (c *Channel) Get() (any, bool) {
	if !c.present {
		return nil, false
	}
	return cloneValue(c.value), true
}

// Update merges an ordered sequence of writes and reports whether the value
// changed. The channel is left untouched on error.
func (c *Channel) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	normalized := make([]any, len(values))
	for i, v := range values {
		n, err := c.spec.NormalizeUpdate(v)
		if err != nil {
			return false, err
		}
		normalized[i] = n
	}

	switch c.spec.Kind {
	case KindLastValue, KindEphemeral:
		c.value, c.present = normalized[len(normalized)-1], true
	case KindBinaryOp:
		acc, present := c.value, c.present
		for _, v := range normalized {
			if !present {
				acc, present = initialValue(c.spec.Operator, v), true
				continue
			}
			next, err := combine(c.spec.Operator, acc, v)
			if err != nil {
				return false, fmt.Errorf("channel %q: %w", c.spec.Name, err)
			}
			acc = next
		}
		c.value, c.present = acc, true
	case KindTopic:
		list, _ := c.value.([]any)
		out := make([]any, 0, len(list)+len(normalized))
		out = append(out, list...)
		c.value, c.present = append(out, normalized...), true
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, c.spec.Kind)
	}
	return true, nil
}

// initialValue seeds an empty BinaryOp channel with its first write.
func initialValue(op Operator, v any) any {
	switch op {
	case OpAppend:
		return appendValues(nil, v)
	case OpUnion:
		return unionValues(nil, v)
	}
	return v
}

// BeginStep applies the start-of-superstep policy: ephemeral channels and
// resetting topics are cleared. Clearing is not a change.
func (c *Channel) BeginStep() {
	switch {
	case c.spec.Kind == KindEphemeral:
		c.value, c.present = nil, false
	case c.spec.Kind == KindTopic && c.spec.ResetEachStep:
		c.value, c.present = nil, false
	}
}

// Checkpoint returns a serializable copy of the value. ok is false for an
// empty channel.
func (c *Channel) Checkpoint() (any, bool) {
	return c.Get()
}

// Restore replaces the value with one read back from a checkpoint. A nil
// value empties the channel.
func (c *Channel) Restore(v any) error {
	if v == nil {
		c.value, c.present = nil, false
		return nil
	}
	out, err := c.normalizeValue(v)
	if err != nil {
		return err
	}
	c.value, c.present = out, true
	return nil
}

// Overwrite sets the value bypassing the reducer. It is used by state
// editing and always counts as a change.
func (c *Channel) Overwrite(v any) error {
	return c.Restore(v)
}

func (c *Channel) normalizeValue(v any) (any, error) {
	if c.spec.Kind != KindTopic {
		out, err := c.spec.ValueType().Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", c.spec.Name, err)
		}
		return out, nil
	}
	raw, err := TypeList.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", c.spec.Name, err)
	}
	list := raw.([]any)
	for i, e := range list {
		n, err := c.spec.Type.Normalize(e)
		if err != nil {
			return nil, fmt.Errorf("channel %q element %d: %w", c.spec.Name, i, err)
		}
		list[i] = n
	}
	return list, nil
}
