package bus

import "errors"

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus closed")
	// ErrProbeTimeout means a probe message did not come back in time.
	ErrProbeTimeout = errors.New("bus probe timed out")
	// ErrContractMismatch means a message was published under another topic or version.
	ErrContractMismatch = errors.New("bus contract mismatch")
)
