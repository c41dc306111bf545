package memory

import "errors"

// ErrMemoryLimit is returned by Put and PutWrites once MaxMemoryMB is reached.
var ErrMemoryLimit = errors.New("memory limit exceeded")
