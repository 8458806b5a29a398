package trigger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/gate"
)

var debugCommand = regexp.MustCompile(`^/nudge_test(?:\s+(\S+))?$`)

const debugReason = "debug command"

// ParseDebugCommand reports whether text is the debug trigger command and returns its optional target.
func ParseDebugCommand(text string) (target string, ok bool) {
	m := debugCommand.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Consume observes every message from inbound until it closes or ctx ends.
// Debug commands are run concurrently; Consume waits for them before returning.
func (e *Engine) Consume(ctx context.Context, inbound <-chan domain.InboundMessage) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if err := e.ObserveInbound(ctx, msg); err != nil {
				e.logger.Error("Failed to observe message", "conversation_id", msg.ConversationID, "error", err)
			}

			target, isCommand := ParseDebugCommand(msg.Text)
			if !isCommand || (e.selfID != "" && msg.SenderID == e.selfID) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.runDebugCommand(ctx, msg, target)
			}()
		}
	}
}

// runDebugCommand triggers a conversation in manual mode and replies with the outcome.
func (e *Engine) runDebugCommand(ctx context.Context, msg domain.InboundMessage, target string) {
	reply := e.HandleDebugCommand(ctx, msg, target)
	if err := e.sender.Send(context.WithoutCancel(ctx), msg.ConversationID, reply); err != nil {
		e.logger.Warn("Failed to reply to debug command", "conversation_id", msg.ConversationID, "error", err)
	}
}

// HandleDebugCommand resolves the target, runs a manual trigger and returns the reply text.
func (e *Engine) HandleDebugCommand(ctx context.Context, msg domain.InboundMessage, target string) string {
	if !e.policy.Enabled {
		return "proactive messaging is disabled"
	}

	conversationID := msg.ConversationID
	if target != "" {
		id, err := e.resolveTarget(ctx, target)
		if err != nil {
			e.logger.Warn("Debug command target lookup failed", "target", target, "error", err)
			return "no private conversation found for " + target
		}
		conversationID = id
	} else if !msg.IsPrivate {
		return "use this command in a private chat or name a target"
	}

	e.logger.Info("Debug trigger requested", "conversation_id", conversationID, "by", msg.SenderID)
	out, err := e.Trigger(ctx, conversationID, ModeManual, debugReason)
	switch {
	case errors.Is(err, ErrUnknownConversation):
		return "no private conversation found for " + conversationID
	case err != nil:
		e.logger.Error("Debug trigger failed", "conversation_id", conversationID, "error", err)
		return "debug trigger failed"
	}
	return DescribeOutcome(out)
}

// resolveTarget accepts a conversation ID or a user ID.
func (e *Engine) resolveTarget(ctx context.Context, target string) (string, error) {
	state, err := e.repo.GetConversation(ctx, target)
	if err != nil {
		return "", err
	}
	if state != nil {
		return state.ConversationID, nil
	}

	states, err := e.repo.ListConversations(ctx)
	if err != nil {
		return "", err
	}
	for _, st := range states {
		if st.UserID == target {
			return st.ConversationID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownConversation, target)
}

// DescribeOutcome renders an outcome as a short operator-facing sentence.
func DescribeOutcome(out Outcome) string {
	switch {
	case out.Sent:
		return fmt.Sprintf("debug trigger sent (source: %s)", out.Source)
	case out.Reason == gate.ReasonFiltered:
		return "target user is filtered"
	case out.Reason != gate.ReasonNone:
		return "debug trigger blocked: " + string(out.Reason)
	case out.Skipped != "":
		return "debug trigger skipped: " + out.Skipped
	default:
		return "debug trigger finished without sending"
	}
}
