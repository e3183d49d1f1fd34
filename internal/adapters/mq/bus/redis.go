package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	envelopeField   = "envelope"
	readBlock       = 500 * time.Millisecond
	readBatch       = 128
	retryBackoff    = 100 * time.Millisecond
	maxRetryBackoff = 2 * time.Second
)

// RedisBus publishes onto a Redis stream named after the contract topic. The
// stream is capped near the configured length. Each subscription reads from
// the stream tail at subscribe time and resumes from its last id after a
// failed read, so a reconnecting reader misses nothing still retained.
// Nothing is acknowledged: a message is handed to a subscription at most once.
type RedisBus struct {
	opts   options
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	bus    *RedisBus
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewRedisBus creates a RedisBus over client. The caller owns client.
func NewRedisBus(client *redis.Client, opts ...Option) *RedisBus {
	return &RedisBus{opts: newOptions(opts), client: client, subs: make(map[*redisSub]struct{})}
}

func (b *RedisBus) Contract() Contract { return b.opts.contract }

// Publish appends n to the contract stream.
func (b *RedisBus) Publish(ctx context.Context, n model.Notification) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	raw, err := b.opts.contract.encode(n)
	if err != nil {
		return err
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.opts.contract.Topic,
		MaxLen: b.opts.streamMaxLen,
		Approx: true,
		Values: map[string]any{envelopeField: raw},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", b.opts.contract.Topic, err)
	}
	return nil
}

// Subscribe reads the contract stream from its current tail. It returns once
// the tail has been resolved, so anything published afterwards is delivered.
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	start, err := b.tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.opts.contract.Topic, err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &redisSub{bus: b, cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.read(readCtx, start, h)
	return s, nil
}

// tail returns the id of the newest stream entry, or 0-0 for an empty stream.
func (b *RedisBus) tail(ctx context.Context) (string, error) {
	msgs, err := b.client.XRevRangeN(ctx, b.opts.contract.Topic, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (s *redisSub) read(ctx context.Context, last string, h Handler) {
	defer close(s.done)
	b := s.bus
	stream := b.opts.contract.Topic
	backoff := retryBackoff

	for ctx.Err() == nil {
		res, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, last},
			Count:   readBatch,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			backoff = retryBackoff
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordErrorByComponent("bus", "stream_read")
			b.opts.log.Warn(ctx, "stream read failed, retrying",
				logger.String("stream", stream), logger.String("last_id", last),
				logger.Duration("backoff", backoff), logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxRetryBackoff)
			continue
		}
		backoff = retryBackoff

		for _, st := range res {
			for _, msg := range st.Messages {
				last = msg.ID
				b.deliver(ctx, msg, h)
			}
		}
	}
}

func (b *RedisBus) deliver(ctx context.Context, msg redis.XMessage, h Handler) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		metrics.RecordNotificationDropped("decode_failed")
		b.opts.log.Error(ctx, "message rejected: no envelope", logger.String("id", msg.ID))
		return
	}
	n, err := b.opts.contract.decode([]byte(raw))
	if err != nil {
		reason := "decode_failed"
		if errors.Is(err, ErrContractMismatch) {
			reason = "contract_mismatch"
		}
		metrics.RecordNotificationDropped(reason)
		b.opts.log.Error(ctx, "message rejected", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	h(ctx, n)
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		s.cancel()
	})
	<-s.done
	return nil
}

// Close ends every subscription. The Redis client is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}
