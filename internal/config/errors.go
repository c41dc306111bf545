package config

import "errors"

// ErrUnknownDriver is returned by OpenStore for an unsupported driver.
var ErrUnknownDriver = errors.New("unknown store driver")
