package bus

import (
	"context"

	"github.com/okian/ladder/internal/domain/model"
)

// Handler is called for each received notification.
type Handler func(ctx context.Context, n model.Notification)

// Subscription ends a Subscribe call.
type Subscription interface {
	Close() error
}

// Bus delivers notifications at most once. Publish never waits for
// subscribers to process a message.
type Bus interface {
	Contract() Contract
	Publish(ctx context.Context, n model.Notification) error
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
	Close() error
}
