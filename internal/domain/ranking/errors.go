package ranking

import "errors"

// Sentinel kinds returned by the engine. ErrUnavailable is retryable.
var (
	ErrNotFound     = errors.New("user not ranked")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("ranking unavailable")
)
