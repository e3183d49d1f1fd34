package presence

import "errors"

var (
	// ErrInvalidUser is returned when a connection carries no user id.
	ErrInvalidUser = errors.New("invalid user id")
	// ErrClosed is returned once the tracker has shut down.
	ErrClosed = errors.New("presence tracker closed")
)
