package bus

import (
	"context"
	"sync"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// MemoryBus is an in-process Bus. Each subscriber has a bounded backlog;
// messages that do not fit are dropped.
type MemoryBus struct {
	opts options

	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	bus  *MemoryBus
	ch   chan envelope
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// NewMemoryBus creates a MemoryBus.
func NewMemoryBus(opts ...Option) *MemoryBus {
	return &MemoryBus{opts: newOptions(opts), subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBus) Contract() Contract { return b.opts.contract }

// Publish hands n to every subscriber without blocking.
func (b *MemoryBus) Publish(ctx context.Context, n model.Notification) error {
	env := b.opts.contract.seal(n)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		select {
		case s.ch <- env:
		default:
			metrics.RecordNotificationDropped("bus_backlog")
			b.opts.log.Debug(ctx, "subscriber backlog full, message dropped",
				logger.String("user_id", n.UserID))
		}
	}
	return nil
}

// Subscribe starts delivering messages to h until the subscription or the
// bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	s := &memorySub{
		bus:  b,
		ch:   make(chan envelope, b.opts.bufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			case env := <-s.ch:
				n, err := b.opts.contract.open(env)
				if err != nil {
					metrics.RecordNotificationDropped("contract_mismatch")
					b.opts.log.Error(ctx, "message rejected", logger.Error(err))
					continue
				}
				h(ctx, n)
			}
		}
	}()
	return s, nil
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.stop)
	})
	<-s.done
	return nil
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}
