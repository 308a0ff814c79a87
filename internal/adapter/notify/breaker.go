package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentrelay/internal/domain"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerNotifier wraps a sink with a circuit breaker. Notification sinks
// talk to third-party APIs; when one starts failing, the breaker opens and
// subsequent sends fail fast instead of burning a goroutine per doomed
// call.
type BreakerNotifier struct {
	inner   domain.Notifier
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

func NewBreakerNotifier(inner domain.Notifier, logger *slog.Logger) *BreakerNotifier {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notify:" + inner.Platform(),
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     defaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerNotifier{inner: inner, breaker: cb, logger: logger}
}

func (b *BreakerNotifier) Platform() string { return b.inner.Platform() }

func (b *BreakerNotifier) Send(ctx context.Context, n domain.Notification) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Send(ctx, n)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("sink %q circuit open: %w", b.inner.Platform(), err)
	}
	return err
}

// State exposes the breaker state for monitoring.
func (b *BreakerNotifier) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.Notifier = (*BreakerNotifier)(nil)
