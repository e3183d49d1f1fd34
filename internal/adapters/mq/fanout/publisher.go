// Package fanout turns score update events into per-recipient notifications
// and delivers them to connected users.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/adapters/mq/bus"
	"github.com/okian/ladder/internal/adapters/mq/queue"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// OnlineSet answers whether a user is connected anywhere.
type OnlineSet interface {
	Contains(ctx context.Context, userID string) (bool, error)
}

// Publisher queues events from the ranking engine and publishes one
// notification per affected user. Emit is the engine side; Handle runs on the
// worker pool.
type Publisher struct {
	queue  queue.Queue
	bus    bus.Bus
	online OnlineSet
	log    logger.Logger
	now    func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithOnlineFilter skips publishing to users the online set does not hold.
func WithOnlineFilter(s OnlineSet) PublisherOption {
	return func(p *Publisher) { p.online = s }
}

// WithPublisherLogger overrides the publisher logger.
func WithPublisherLogger(l logger.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPublisher creates a Publisher feeding q and publishing on b.
func NewPublisher(q queue.Queue, b bus.Bus, opts ...PublisherOption) *Publisher {
	p := &Publisher{queue: q, bus: b, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("fanout.publisher")
	}
	return p
}

// Emit queues ev without blocking. A full queue drops the event.
func (p *Publisher) Emit(ctx context.Context, ev model.ScoreUpdateEvent) {
	if p.queue.Enqueue(ctx, ev) {
		return
	}
	for range ev.AffectedUsers {
		metrics.RecordNotificationDropped("queue_full")
	}
	p.log.Warn(ctx, "fanout queue full, event dropped",
		logger.String("origin_user_id", ev.OriginUserID), logger.Int("affected", len(ev.AffectedUsers)))
}

// Handle publishes one notification per affected user. Each failure is
// logged and skipped; the returned error joins them.
func (p *Publisher) Handle(ctx context.Context, ev model.ScoreUpdateEvent) error { //nolint:gocritic // hugeParam
	var errs []error
	for _, au := range ev.AffectedUsers {
		if p.online != nil {
			ok, err := p.online.Contains(ctx, au.UserID)
			if err != nil {
				p.log.Debug(ctx, "online lookup failed, publishing anyway",
					logger.String("user_id", au.UserID), logger.Error(err))
			} else if !ok {
				metrics.RecordNotificationDropped("offline")
				continue
			}
		}

		n := model.Notification{
			MessageID:    uuid.NewString(),
			UserID:       au.UserID,
			OriginUserID: ev.OriginUserID,
			NewRank:      au.NewRank,
			NewScore:     au.NewScore,
			SentAt:       p.now(),
		}
		if err := p.bus.Publish(ctx, n); err != nil {
			metrics.RecordNotificationDropped("publish_failed")
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrDeliveryDropped, au.UserID, err))
			continue
		}
		metrics.RecordNotificationPublished()
	}
	return errors.Join(errs...)
}
