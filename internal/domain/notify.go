package domain

import "context"

// Notification is an outbound one-way message to an external chat platform.
type Notification struct {
	Platform  string // "telegram", "slack", "discord"
	Recipient string // platform-native chat/channel identifier
	Text      string
}

// Notifier delivers notifications to one external platform. Delivery is
// best-effort and fire-and-forget; failures are logged, never surfaced to
// the caller who triggered them.
type Notifier interface {
	Platform() string
	Send(ctx context.Context, n Notification) error
}
