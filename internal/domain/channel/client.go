package channel

import "context"

// Client is the capability interface over the interactive messaging client
// library. This decouples the session manager and the dispatcher from the
// concrete WhatsApp implementation.
type Client interface {
	// Connect opens the underlying connection. For an unpaired device this
	// starts a pairing attempt; pairing codes and the rest of the handshake
	// arrive through Events.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down. Idempotent.
	Disconnect(ctx context.Context) error
	// IsReachable reports whether the contact exists on the channel.
	IsReachable(ctx context.Context, contact string) (bool, error)
	// Send delivers one text message and returns the provider message id.
	Send(ctx context.Context, contact, text string) (string, error)
	// Events exposes the typed lifecycle event stream.
	Events() <-chan Event
}

// SettingsStore persists small configuration blobs across restarts. The
// session record is stored under a single key as opaque JSON.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
