package cluster

import "errors"

// Argument errors. These are reported before any side effect is performed.
var (
	ErrInvalidArguments = errors.New("invalid cluster arguments")
	ErrMissingDataRoot  = errors.New("data root directory is required")
)
