package core

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
)

// RealtimeBus abstracts the pub/sub connection the backend fans events out on.
// Owned by the adapter; Events stays open across Connect/Disconnect cycles.
// Disconnect forgets every subscription. A connection dropped by the server
// keeps them, and the next Connect subscribes them again.
type RealtimeBus interface {
	// Connect blocks until the connection is established, ctx ends or the
	// connect timeout elapses. Connecting an open bus is a no-op.
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	Subscribe(ctx context.Context, channel domain.ChannelName) error
	Unsubscribe(ctx context.Context, channel domain.ChannelName) error
	Events() <-chan domain.Event
	// Dropped yields the cause each time the server closes the connection.
	Dropped() <-chan error
}
