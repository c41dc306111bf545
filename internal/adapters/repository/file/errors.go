package file

import "errors"

var (
	// ErrDirRequired is returned by NewStore without a directory.
	ErrDirRequired = errors.New("data directory is required")
	// ErrCorruptFile marks a checkpoint file that decodes to nothing.
	ErrCorruptFile = errors.New("corrupt checkpoint file")
)
