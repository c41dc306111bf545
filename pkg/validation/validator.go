// Package validation checks configuration and graph definitions with
// go-playground/validator and reports problems as field errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// Validator interface for custom validation
// PRINCIPLES:
// - ISP: Simple interface with single method
// - DIP: Depend on interface, not concrete types
type Validator interface {
	Validate() error
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error on field '%s': %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the failing field paths.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// MaxIdentifierLength bounds node and channel names.
const MaxIdentifierLength = 100

var (
	engine     *validator.Validate
	engineOnce sync.Once
)

func instance() *validator.Validate {
	engineOnce.Do(func() {
		engine = validator.New(validator.WithRequiredStructEnabled())
		engine.RegisterTagNameFunc(fieldName)
		_ = engine.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return IsIdentifier(fl.Field().String())
		})
		_ = engine.RegisterValidation("node_ref", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == graph.End || IsIdentifier(s)
		})
		_ = engine.RegisterValidation("channel_kind", func(fl validator.FieldLevel) bool {
			switch channel.Kind(fl.Field().String()) {
			case channel.KindLastValue, channel.KindBinaryOp, channel.KindTopic, channel.KindEphemeral:
				return true
			}
			return false
		})
		_ = engine.RegisterValidation("channel_type", func(fl validator.FieldLevel) bool {
			return channel.Type(fl.Field().String()).Valid()
		})
		_ = engine.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || channel.Operator(s).Valid()
		})
	})
	return engine
}

// fieldName reports fields by their yaml name, then json name.
func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"yaml", "json"} {
		name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// IsIdentifier reports whether s is usable as a node or channel name.
func IsIdentifier(s string) bool {
	return len(s) <= MaxIdentifierLength && identifierPattern.MatchString(s) && !channel.IsReserved(s)
}

// Struct validates v by its `validate` tags and then by its own Validate
// method when it implements Validator.
func Struct(v any) error {
	if err := instance().Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("cannot validate %T: %w", v, err)
		}
		return formatErrors(err)
	}
	if self, ok := v.(Validator); ok {
		return self.Validate()
	}
	return nil
}

// formatErrors converts validator errors to our custom format
func formatErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   trimRoot(fe.Namespace()),
			Value:   fe.Value(),
			Message: message(fe),
		})
	}
	return out
}

// trimRoot drops the struct type name from a namespace like Config.store.dsn.
func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// message returns a human-readable error message
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "dive":
		return "invalid element"
	case "identifier":
		return "must be a valid identifier (letters, digits, '_', '-', '.'; not starting with '__')"
	case "node_ref":
		return "must name a node or " + graph.End
	case "channel_kind":
		return "must be one of last_value, binary_op, topic, ephemeral"
	case "channel_type":
		return "must be one of any, int, float, string, bool, list, map"
	case "operator":
		return "must be one of sum, append, union, merge, max, min"
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}
