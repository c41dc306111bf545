// Package channel provides state reduction functionality
package channel

import (
	"cmp"
	"fmt"
	"reflect"
)

// Operator names the associative combinator of a BinaryOp channel. The set is
// closed: every operator is matched exhaustively in combine and in
// operatorAccepts.
type Operator string

const (
	// OpSum adds numbers.
	OpSum Operator = "sum"
	// OpAppend concatenates lists in writer order.
	OpAppend Operator = "append"
	// OpUnion appends the elements not already present.
	OpUnion Operator = "union"
	// OpMerge deep-merges maps, right side wins on scalar conflicts.
	OpMerge Operator = "merge"
	// OpMax keeps the larger value.
	OpMax Operator = "max"
	// OpMin keeps the smaller value.
	OpMin Operator = "min"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpSum, OpAppend, OpUnion, OpMerge, OpMax, OpMin:
		return true
	}
	return false
}

// operatorAccepts reports whether op can combine values of type t.
func operatorAccepts(op Operator, t Type) bool {
	if t == "" || t == TypeAny {
		return op.Valid()
	}
	switch op {
	case OpSum:
		return t == TypeInt || t == TypeFloat
	case OpAppend, OpUnion:
		return t == TypeList
	case OpMerge:
		return t == TypeMap
	case OpMax, OpMin:
		return t == TypeInt || t == TypeFloat || t == TypeString
	}
	return false
}

// combine applies op to an accumulated value and the next update.
func combine(op Operator, current, update any) (any, error) {
	switch op {
	case OpSum:
		return sumValues(current, update)
	case OpAppend:
		return appendValues(current, update), nil
	case OpUnion:
		return unionValues(current, update), nil
	case OpMerge:
		return mergeValues(current, update), nil
	case OpMax:
		return pick(current, update, func(c int) bool { return c < 0 })
	case OpMin:
		return pick(current, update, func(c int) bool { return c > 0 })
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
}

func sumValues(current, update any) (any, error) {
	switch c := current.(type) {
	case int:
		switch u := update.(type) {
		case int:
			return c + u, nil
		case float64:
			return float64(c) + u, nil
		}
	case float64:
		switch u := update.(type) {
		case int:
			return c + float64(u), nil
		case float64:
			return c + u, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot sum %T and %T", ErrTypeMismatch, current, update)
}

// appendValues appends two values together. Lists are concatenated, scalars
// are appended as a single element.
func appendValues(current, update any) any {
	out := asList(current)
	return append(out, asList(update)...)
}

func unionValues(current, update any) any {
	out := asList(current)
	for _, u := range asList(update) {
		if !containsValue(out, u) {
			out = append(out, u)
		}
	}
	return out
}

func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(x))
		copy(out, x)
		return out
	default:
		return []any{x}
	}
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// mergeValues merges two values together, recursing into nested maps.
func mergeValues(current, update any) any {
	currentMap, ok := current.(map[string]any)
	if !ok {
		return update
	}
	updateMap, ok := update.(map[string]any)
	if !ok {
		return update
	}
	merged := make(map[string]any, len(currentMap)+len(updateMap))
	for k, v := range currentMap {
		merged[k] = v
	}
	for k, v := range updateMap {
		if existing, exists := merged[k]; exists {
			merged[k] = mergeValues(existing, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// pick returns update when replace(compare(current, update)) holds.
func pick(current, update any, replace func(int) bool) (any, error) {
	c, err := compareValues(current, update)
	if err != nil {
		return nil, err
	}
	if replace(c) {
		return update, nil
	}
	return current, nil
}

func compareValues(a, b any) (int, error) {
	switch x := a.(type) {
	case int:
		switch y := b.(type) {
		case int:
			return cmp.Compare(x, y), nil
		case float64:
			return cmp.Compare(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case int:
			return cmp.Compare(x, float64(y)), nil
		case float64:
			return cmp.Compare(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T and %T", ErrTypeMismatch, a, b)
}
