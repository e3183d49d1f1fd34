package bus

import "github.com/okian/ladder/pkg/logger"

// Option configures a bus implementation.
type Option func(*options)

type options struct {
	contract     Contract
	bufferSize   int
	streamMaxLen int64
	log          logger.Logger
}

func newOptions(opts []Option) options {
	o := options{contract: ScoreUpdates, bufferSize: 1024, streamMaxLen: 100_000}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("bus")
	}
	return o
}

// WithContract overrides the contract. Only tests should need this.
func WithContract(c Contract) Option {
	return func(o *options) { o.contract = c }
}

// WithBufferSize bounds the per-subscriber backlog of the memory bus.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithLogger overrides the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithStreamMaxLen caps the Redis stream near n entries.
func WithStreamMaxLen(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.streamMaxLen = n
		}
	}
}
