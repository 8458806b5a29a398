// Package transport connects the engine to the chat platform.
package transport

import (
	"context"
	"errors"

	"github.com/ashureev/nudge/internal/domain"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
	// ErrNotConnected is returned by Send while no gateway connection is up.
	ErrNotConnected = errors.New("transport not connected")
)

// Transport receives chat messages and delivers outbound text.
type Transport interface {
	// Receive starts delivery of observed messages. The channel closes when ctx ends or the transport closes.
	Receive(ctx context.Context) (<-chan domain.InboundMessage, error)
	// Send delivers content to a conversation and returns once the platform accepted it.
	Send(ctx context.Context, conversationID, content string) error
	// Close releases the connection.
	Close() error
}
