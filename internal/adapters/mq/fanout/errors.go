package fanout

import "errors"

// ErrDeliveryDropped marks a notification that was not pushed. It is logged
// and counted, never returned to the score update that caused it.
var ErrDeliveryDropped = errors.New("delivery dropped")
