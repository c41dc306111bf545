// Package channel defines domain-specific errors
package channel

import (
	"errors"
	"strings"
)

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Declaration errors
	ErrInvalidName     = errors.New("invalid channel name")
	ErrReservedName    = errors.New("reserved channel name")
	ErrDuplicateName   = errors.New("duplicate channel name")
	ErrUnknownKind     = errors.New("unknown channel kind")
	ErrUnknownType     = errors.New("unknown channel type")
	ErrUnknownOperator = errors.New("unknown binary operator")
	ErrInvalidSpec     = errors.New("invalid channel spec")

	// Runtime errors
	ErrUnknownChannel = errors.New("unknown channel")
	ErrTypeMismatch   = errors.New("channel type mismatch")
)

// ReservedPrefix marks names used internally by the executor.
const ReservedPrefix = "__"

// IsReserved reports whether name is reserved for internal use.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}
