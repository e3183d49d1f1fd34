package ranking

import (
	"time"

	"github.com/okian/ladder/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets where score update events are sent.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithPageSize sets the fixed rank page size.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithNeighborhoodRadius sets the neighborhood window radius.
func WithNeighborhoodRadius(r int) Option {
	return func(e *Engine) {
		if r > 0 {
			e.radius = r
		}
	}
}

// WithQueryTimeout bounds each index call.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.queryTimeout = d
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
