package channel

import (
	"fmt"
	"math"
	"reflect"
)

// Type is the declared type tag of a channel value.
type Type string

const (
	TypeAny    Type = "any"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeString Type = "string"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
	TypeMap    Type = "map"
)

// Valid reports whether t is a known tag. The empty tag is treated as any.
func (t Type) Valid() bool {
	switch t {
	case "", TypeAny, TypeInt, TypeFloat, TypeString, TypeBool, TypeList, TypeMap:
		return true
	}
	return false
}

// Compatible reports whether a reference declared with tag t can be used
// against a channel whose value has tag other.
func (t Type) Compatible(other Type) bool {
	if t == "" || t == TypeAny || other == "" || other == TypeAny {
		return true
	}
	return t == other
}

// Normalize converts v to the canonical Go representation of t:
// int, float64, string, bool, []any or map[string]any. Values decoded by
// msgpack or JSON come back as a different concrete type than the one that
// was written; normalizing on every update and restore keeps node code
// independent of the codec.
func (t Type) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case "", TypeAny:
		return v, nil
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeList:
		return toList(v)
	case TypeMap:
		return toMap(v)
	}
	return nil, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, t)
}

func toInt(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int", ErrTypeMismatch, u)
		}
		return int(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %v is not integral", ErrTypeMismatch, f)
		}
		return int(f), nil
	}
	return nil, fmt.Errorf("%w: %T is not int", ErrTypeMismatch, v)
}

func toFloat(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("%w: %T is not float", ErrTypeMismatch, v)
}

func toList(v any) (any, error) {
	if l, ok := v.([]any); ok {
		return cloneValue(l), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %T is not list", ErrTypeMismatch, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = cloneValue(rv.Index(i).Interface())
	}
	return out, nil
}

func toMap(v any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		return cloneValue(m), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: %T is not map", ErrTypeMismatch, v)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = cloneValue(iter.Value().Interface())
	}
	return out, nil
}

// cloneValue deep-copies the container types a channel can hold so that a
// snapshot handed to a node never aliases live channel state.
func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
