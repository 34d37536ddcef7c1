package channel

import "context"

// Channel names, in the default fan-out priority order.
const (
	Telegram = "telegram"
	Email    = "email"
	Zalo     = "zalo"
)

// DefaultPriority is used when a user has no
// notification_channel_priority setting.
var DefaultPriority = []string{Telegram, Email, Zalo}

// Message is a rendered notification. Adapters pick the representation
// they can carry: Telegram and email use HTML, Zalo uses the plain text.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Adapter is implemented once per delivery channel.
//
// Send delivers one message to a channel-specific destination (numeric
// chat id, email address, Zalo user id). Implementations honor ctx for
// timeout/cancellation and return an error on any non-delivery.
type Adapter interface {
	Name() string
	Send(ctx context.Context, destination string, msg Message) error

	// Healthcheck verifies connectivity/credentials. Called once at
	// startup; failures are logged, not fatal.
	Healthcheck(ctx context.Context) error
}
