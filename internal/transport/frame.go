package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// Frame types on the gateway socket.
const (
	FrameMessage = "message"
	FrameSend    = "send"
	FrameAck     = "ack"
)

var errMissingField = errors.New("missing required field")

// Frame is the JSON envelope exchanged with the chat gateway.
type Frame struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Text           string `json:"text,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"` // unix seconds
	Private        bool   `json:"private,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Inbound converts a message frame into an InboundMessage. A missing timestamp
// is replaced by received.
func (f Frame) Inbound(received time.Time) (domain.InboundMessage, error) {
	if f.ConversationID == "" || f.SenderID == "" {
		return domain.InboundMessage{}, fmt.Errorf("decode message frame: %w", errMissingField)
	}
	ts := received
	if f.Timestamp > 0 {
		ts = time.Unix(f.Timestamp, 0)
	}
	return domain.InboundMessage{
		ConversationID: f.ConversationID,
		SenderID:       f.SenderID,
		SenderName:     f.SenderName,
		Text:           f.Text,
		Timestamp:      ts,
		IsPrivate:      f.Private,
	}, nil
}

// EncodeStreamSend builds the field map for an outbound stream entry.
func EncodeStreamSend(id, conversationID, content string, at time.Time) map[string]any {
	return map[string]any{
		"id":              id,
		"conversation_id": conversationID,
		"text":            content,
		"sent_at":         at.Unix(),
	}
}

// DecodeStreamMessage parses an inbound stream entry. Field values arrive as strings.
func DecodeStreamMessage(values map[string]any, received time.Time) (domain.InboundMessage, error) {
	str := func(key string) string {
		switch v := values[key].(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}

	f := Frame{
		Type:           FrameMessage,
		ConversationID: str("conversation_id"),
		SenderID:       str("sender_id"),
		SenderName:     str("sender_name"),
		Text:           str("text"),
	}
	if raw := strings.TrimSpace(str("timestamp")); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.InboundMessage{}, fmt.Errorf("decode stream timestamp %q: %w", raw, err)
		}
		f.Timestamp = ts
	}
	if raw := str("private"); raw != "" {
		private, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.InboundMessage{}, fmt.Errorf("decode stream private flag %q: %w", raw, err)
		}
		f.Private = private
	}
	return f.Inbound(received)
}
