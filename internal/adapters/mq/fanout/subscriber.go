package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/ladder/internal/adapters/mq/bus"
	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Presence is the subset of the presence tracker the subscriber needs.
type Presence interface {
	IsOnline(userID string) bool
	Deliver(ctx context.Context, userID string, payload any) int
}

// Subscriber pushes received notifications to online recipients. Offline
// recipients are dropped: there is no queueing and no replay.
type Subscriber struct {
	bus      bus.Bus
	presence Presence
	seen     dedupe.Deduper
	log      logger.Logger

	mu  sync.Mutex
	sub bus.Subscription
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithDeduper sets the message-id deduper.
func WithDeduper(d dedupe.Deduper) SubscriberOption {
	return func(s *Subscriber) {
		if d != nil {
			s.seen = d
		}
	}
}

// WithSubscriberLogger overrides the subscriber logger.
func WithSubscriberLogger(l logger.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSubscriber creates a Subscriber reading from b.
func NewSubscriber(b bus.Bus, p Presence, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{bus: b, presence: p}
	for _, opt := range opts {
		opt(s)
	}
	if s.seen == nil {
		s.seen = dedupe.NewInMemoryDeduper()
	}
	if s.log == nil {
		s.log = logger.Get().Named("fanout.subscriber")
	}
	return s
}

// Start subscribes to the bus.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, s.handle)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop ends the subscription.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (s *Subscriber) handle(ctx context.Context, n model.Notification) {
	if err := s.Deliver(ctx, n); err != nil {
		s.log.Debug(ctx, "notification not delivered",
			logger.String("user_id", n.UserID), logger.String("message_id", n.MessageID), logger.Error(err))
	}
}

// Deliver pushes n to its recipient if online. It returns an error wrapping
// ErrDeliveryDropped when the push was not queued.
func (s *Subscriber) Deliver(ctx context.Context, n model.Notification) error {
	if n.Probe {
		return nil
	}
	if s.seen.SeenAndRecord(ctx, n.MessageID) {
		metrics.RecordNotificationDropped("duplicate")
		return fmt.Errorf("%w: duplicate message %s", ErrDeliveryDropped, n.MessageID)
	}
	if !s.presence.IsOnline(n.UserID) {
		metrics.RecordNotificationDropped("offline")
		return fmt.Errorf("%w: %s offline", ErrDeliveryDropped, n.UserID)
	}
	if s.presence.Deliver(ctx, n.UserID, n) == 0 {
		metrics.RecordNotificationDropped("outbox_full")
		return fmt.Errorf("%w: %s outbox full", ErrDeliveryDropped, n.UserID)
	}
	return nil
}
