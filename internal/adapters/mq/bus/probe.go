package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/domain/model"
)

// Probe round-trips a probe message through b and fails if it does not come
// back within timeout. A topic or version disagreement between publish and
// subscribe sides would otherwise drop every notification silently.
func Probe(ctx context.Context, b Bus, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := "probe-" + uuid.NewString()
	got := make(chan model.Notification, 1)
	sub, err := b.Subscribe(ctx, func(_ context.Context, n model.Notification) {
		if n.Probe && n.MessageID == id {
			select {
			case got <- n:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("probe subscribe: %w", err)
	}
	defer func() { _ = sub.Close() }()

	if err := b.Publish(ctx, model.Notification{MessageID: id, Probe: true, SentAt: time.Now()}); err != nil {
		return fmt.Errorf("probe publish: %w", err)
	}

	select {
	case n := <-got:
		if v := b.Contract().Version; n.Version != v {
			return fmt.Errorf("%w: probe came back as v%d, want v%d", ErrContractMismatch, n.Version, v)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s after %s", ErrProbeTimeout, b.Contract().Topic, timeout)
	}
}
