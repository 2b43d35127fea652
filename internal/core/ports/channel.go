package ports

import (
	"context"

	"livecast/internal/core/domain"
)

// ChannelEvents are the callbacks an EventChannel delivers on. All callbacks
// for one channel are invoked sequentially, never concurrently, but their
// order relative to MediaRoom events is not defined.
type ChannelEvents struct {
	// OnMessage delivers every decoded inbound envelope.
	OnMessage func(env domain.Envelope)
	// OnDisconnect fires when the transport drops without an explicit
	// stream-ended. The channel keeps reconnecting on its own afterwards.
	OnDisconnect func(err error)
	// OnReconnect fires after the transport is re-established. Server-side
	// session state does not survive a drop, so controllers must re-join.
	OnReconnect func()
}

// EventChannel is the persistent bidirectional session-control connection.
type EventChannel interface {
	// SetEvents installs the callbacks. Must be called before Connect.
	SetEvents(events ChannelEvents)
	// Connect establishes the transport.
	Connect(ctx context.Context) error
	// Send writes one envelope. Fails with domain.ErrNotConnected while the
	// transport is down.
	Send(ctx context.Context, env domain.Envelope) error
	// Close tears the transport down and stops reconnecting. Idempotent.
	Close() error
}
