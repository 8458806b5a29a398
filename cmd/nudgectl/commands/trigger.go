// Package commands implements the nudgectl subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/nudge/internal/trigger"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewTriggerCmd creates the trigger command.
func NewTriggerCmd() *cobra.Command {
	var (
		addr    string
		token   string
		mode    string
		reason  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger <conversation-id>",
		Short: "Trigger a proactive message for one conversation",
		Long:  "Ask the running daemon to evaluate and, when eligible, send a proactive message. Manual mode skips the silence check.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "manual" && mode != "scheduled" {
				return fmt.Errorf("invalid mode %q: must be manual or scheduled", mode)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out, err := postTrigger(ctx, addr, token, args[0], mode, reason)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, trigger.DescribeOutcome(out))
			if out.Content != "" {
				fmt.Fprintf(w, "  content: %s\n", out.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("NUDGE_ADMIN_URL", "http://localhost:"+envOr("PORT", "8080")), "admin API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("ADMIN_TOKEN"), "admin bearer token")
	cmd.Flags().StringVar(&mode, "mode", "manual", "trigger mode (manual or scheduled)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the trigger")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	return cmd
}

type triggerResponse struct {
	Error   string          `json:"error"`
	Outcome trigger.Outcome `json:"outcome"`
}

func postTrigger(ctx context.Context, addr, token, conversationID, mode, reason string) (trigger.Outcome, error) {
	q := url.Values{"mode": {mode}}
	if reason != "" {
		q.Set("reason", reason)
	}
	endpoint := strings.TrimRight(addr, "/") + "/debug/trigger/" + url.PathEscape(conversationID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return trigger.Outcome{}, fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return trigger.Outcome{}, fmt.Errorf("call admin API: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out trigger.Outcome
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return trigger.Outcome{}, fmt.Errorf("decode outcome: %w", err)
		}
		return out, nil
	default:
		var body triggerResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return body.Outcome, fmt.Errorf("trigger %s: %s (status %d)", conversationID, body.Error, resp.StatusCode)
	}
}
