// Package notify pushes agent replies back out through platform channels.
// Delivery is best-effort: the gateway never blocks an HTTP response on a
// notification, and a failing sink trips a breaker instead of piling up
// doomed calls.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"agentrelay/internal/domain"
)

// Dispatcher routes notifications to the sink registered for their
// platform.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]domain.Notifier
	log   *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sinks: make(map[string]domain.Notifier),
		log:   log,
	}
}

// Register adds a sink, replacing any previous sink for the platform.
func (d *Dispatcher) Register(n domain.Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[n.Platform()] = n
}

// Supports reports whether a sink exists for the platform.
func (d *Dispatcher) Supports(platform string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sinks[platform]
	return ok
}

// Send delivers through the platform's sink.
func (d *Dispatcher) Send(ctx context.Context, n domain.Notification) error {
	d.mu.RLock()
	sink, ok := d.sinks[n.Platform]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no sink for platform %q", domain.ErrNotifyFailed, n.Platform)
	}

	if err := sink.Send(ctx, n); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNotifyFailed, n.Platform, err)
	}
	d.log.Debug("notification delivered", "platform", n.Platform, "recipient", n.Recipient)
	return nil
}
