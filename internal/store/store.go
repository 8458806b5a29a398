// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// RecentSentKeep is how many delivered messages are retained per conversation
// for duplicate suppression.
const RecentSentKeep = 20

// Repository defines the interface for persisting conversation trigger state.
type Repository interface {
	// GetConversation retrieves state by conversation ID. It returns nil, nil when absent.
	GetConversation(ctx context.Context, conversationID string) (*domain.ConversationState, error)

	// ListConversations returns every tracked conversation.
	ListConversations(ctx context.Context) ([]*domain.ConversationState, error)

	// UpsertConversation creates or replaces a conversation record.
	UpsertConversation(ctx context.Context, state *domain.ConversationState) error

	// RecordSent appends a delivered message and trims the conversation to the newest keep entries.
	RecordSent(ctx context.Context, msg domain.SentMessage, keep int) error

	// RecentSent returns up to limit delivered messages, newest first.
	RecentSent(ctx context.Context, conversationID string, limit int) ([]domain.SentMessage, error)

	// CleanupStale removes conversations (and their sent history) not updated since cutoff.
	CleanupStale(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
