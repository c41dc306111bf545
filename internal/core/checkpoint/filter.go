package checkpoint

import (
	"reflect"
)

// Filter selects checkpoints by metadata. Source, Step, MinStep, MaxStep, Node
// and Before are the only top-level criteria; any other key goes in Extra and
// is compared by equality against Metadata.Extra. A key in Extra never
// matches a top-level field, even when it shares its name.
type Filter struct {
	Source  Source         `json:"source,omitempty"`
	Step    *int           `json:"step,omitempty"`
	MinStep *int           `json:"min_step,omitempty"`
	MaxStep *int           `json:"max_step,omitempty"`
	Node    string         `json:"node,omitempty"`
	Before  string         `json:"before,omitempty"` // checkpoint id; only strictly older ids match
	Extra   map[string]any `json:"extra,omitempty"`
}

// IntPtr is a helper for the step fields.
func IntPtr(n int) *int { return &n }

// StepRange returns a filter for min <= step <= max.
func StepRange(lo, hi int) *Filter {
	return &Filter{MinStep: IntPtr(lo), MaxStep: IntPtr(hi)}
}

// Validate ensures filter parameters are valid
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Source != "" && !f.Source.Valid() {
		return ErrInvalidSource
	}
	if f.MinStep != nil && f.MaxStep != nil && *f.MinStep > *f.MaxStep {
		return ErrInvalidStepRange
	}
	return nil
}

// Matches reports whether a checkpoint with id and metadata md passes the
// filter. A nil filter matches everything.
func (f *Filter) Matches(id string, md Metadata) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Source != "" && md.Source != f.Source:
		return false
	case f.Step != nil && md.Step != *f.Step:
		return false
	case f.MinStep != nil && md.Step < *f.MinStep:
		return false
	case f.MaxStep != nil && md.Step > *f.MaxStep:
		return false
	case f.Node != "" && md.Node != f.Node:
		return false
	case f.Before != "" && id >= f.Before:
		return false
	}
	for k, want := range f.Extra {
		got, ok := md.Extra[k]
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// ValuesEqual compares metadata values after a codec round trip: numbers are
// equal when they denote the same number regardless of Go type.
func ValuesEqual(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Slice && rb.Kind() == reflect.Slice {
		if ra.Len() != rb.Len() {
			return false
		}
		for i := range ra.Len() {
			if !ValuesEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	if ra.Kind() == reflect.Map && rb.Kind() == reflect.Map {
		if ra.Len() != rb.Len() {
			return false
		}
		for _, k := range ra.MapKeys() {
			v := rb.MapIndex(k)
			if !v.IsValid() || !ValuesEqual(ra.MapIndex(k).Interface(), v.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
