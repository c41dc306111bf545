package validation

import (
	"errors"

	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// Compile compiles g and reports every structural problem as a field error
// keyed by the offending subject, for example "node review".
func Compile(g *graph.Graph) (*graph.CompiledGraph, error) {
	if g == nil {
		return nil, ValidationErrors{{Field: "graph", Message: "graph is nil"}}
	}
	cg, err := g.Compile()
	if err != nil {
		return nil, Structural(err)
	}
	return cg, nil
}

// Structural converts compile errors into ValidationErrors. The result still
// matches the graph sentinels with errors.Is. Errors that are not structural
// are returned unchanged.
func Structural(err error) error {
	if err == nil {
		return nil
	}
	var out structuralErrors
	for _, e := range flatten(err) {
		var se *graph.StructuralError
		if !errors.As(e, &se) {
			continue
		}
		msg := se.Kind.Error()
		if se.Err != nil {
			msg += ": " + se.Err.Error()
		}
		out.fields = append(out.fields, ValidationError{Field: se.Subject, Message: msg})
		out.causes = append(out.causes, se)
	}
	if len(out.fields) == 0 {
		return err
	}
	return &out
}

// structuralErrors keeps the original errors for errors.Is.
type structuralErrors struct {
	fields ValidationErrors
	causes []error
}

func (e *structuralErrors) Error() string { return e.fields.Error() }

func (e *structuralErrors) Unwrap() []error { return e.causes }

// As lets callers extract the field view with errors.As.
func (e *structuralErrors) As(target any) bool {
	if t, ok := target.(*ValidationErrors); ok {
		*t = e.fields
		return true
	}
	return false
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if _, structural := err.(*graph.StructuralError); !structural {
			var out []error
			for _, e := range joined.Unwrap() {
				out = append(out, flatten(e)...)
			}
			return out
		}
	}
	return []error{err}
}
