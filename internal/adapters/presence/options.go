package presence

import (
	"time"

	"github.com/okian/ladder/pkg/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithDirectory sets the shared online-set.
func WithDirectory(d Directory) Option {
	return func(t *Tracker) {
		if d != nil {
			t.dir = d
		}
	}
}

// WithHeartbeat sets the ping interval and the silence after which a session
// is evicted.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(t *Tracker) {
		if interval > 0 {
			t.interval = interval
		}
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithOutboxSize bounds the pushes queued per session.
func WithOutboxSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.outboxSize = n
		}
	}
}

// WithClock overrides the time source used for heartbeats.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger overrides the tracker logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}
