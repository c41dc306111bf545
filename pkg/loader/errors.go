package loader

import "errors"

var (
	// ErrUnknownRunnable is returned when a node names an unregistered runnable.
	ErrUnknownRunnable = errors.New("unknown runnable")
	// ErrUnknownRoute is returned when a branch names an unregistered route.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrUnbound is returned by the placeholder runnables of a lenient registry.
	ErrUnbound = errors.New("runnable is not bound to an implementation")
	// ErrDuplicateName rejects a second registration under the same name.
	ErrDuplicateName = errors.New("name already registered")
	// ErrInvalidParams is returned when a builtin's `with` block does not fit.
	ErrInvalidParams = errors.New("invalid parameters")
	// ErrDuplicateID rejects repeated node ids or channel names in a definition.
	ErrDuplicateID = errors.New("duplicate id")
)
