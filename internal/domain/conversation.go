// Package domain holds the records shared across the trigger engine, store and transports.
package domain

import (
	"time"
)

// ConversationState stores the per-conversation trigger bookkeeping.
type ConversationState struct {
	ConversationID string
	UserID         string
	UserName       string
	LastActivityAt time.Time
	LastTriggerAt  *time.Time
	TriggersToday  int
	DayAnchor      string
	AwaitingReply  bool
	UpdatedAt      time.Time
}

// HasActivity reports whether any message has been observed in the conversation.
func (s *ConversationState) HasActivity() bool {
	return !s.LastActivityAt.IsZero()
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastTriggerAt != nil {
		ts := *s.LastTriggerAt
		c.LastTriggerAt = &ts
	}
	return &c
}

// DisplayName returns the user name, falling back to the user ID.
func (s *ConversationState) DisplayName() string {
	if s.UserName != "" {
		return s.UserName
	}
	return s.UserID
}

// InboundMessage is a message observed on the chat transport, in either direction.
type InboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IsPrivate      bool      `json:"is_private"`
}

// HistoryMessage is one entry of recent conversation context.
type HistoryMessage struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// SentMessage records a proactive message that was delivered.
type SentMessage struct {
	ConversationID string
	Content        string
	SentAt         time.Time
}
