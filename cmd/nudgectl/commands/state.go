package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/nudge/internal/config"
	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/store"
	"github.com/ashureev/nudge/internal/trigger"
)

// NewStateCmd creates the state command.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state [conversation-id]",
		Short: "Show stored conversation state",
		Long:  "List every tracked conversation, or show one conversation with its current eligibility, read directly from the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() {
				if err := repo.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				states, err := repo.ListConversations(ctx)
				if err != nil {
					return fmt.Errorf("failed to list conversations: %w", err)
				}
				if len(states) == 0 {
					fmt.Fprintln(w, "No conversations tracked")
					return nil
				}
				return writeStateTable(w, states, cfg.Location)
			}

			state, err := repo.GetConversation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load conversation: %w", err)
			}
			if state == nil {
				return fmt.Errorf("conversation %s not found", args[0])
			}

			recent, err := repo.RecentSent(ctx, state.ConversationID, 5)
			if err != nil {
				return fmt.Errorf("failed to load sent messages: %w", err)
			}

			eval := trigger.NewEvaluator(cfg.Policy)
			now := cfg.Now()
			writeStateDetail(w, state, recent, cfg.Location)
			fmt.Fprintf(w, "  scheduled: %s\n", describeDecision(eval.Evaluate(state, now, trigger.ModeScheduled)))
			fmt.Fprintf(w, "  manual:    %s\n", describeDecision(eval.Evaluate(state, now, trigger.ModeManual)))
			return nil
		},
	}

	return cmd
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04:05")
}

func lastTrigger(s *domain.ConversationState, loc *time.Location) string {
	if s.LastTriggerAt == nil {
		return "-"
	}
	return formatTime(*s.LastTriggerAt, loc)
}

func writeStateTable(w io.Writer, states []*domain.ConversationState, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONVERSATION\tUSER\tLAST ACTIVITY\tLAST TRIGGER\tTODAY\tAWAITING REPLY")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n",
			s.ConversationID,
			s.DisplayName(),
			formatTime(s.LastActivityAt, loc),
			lastTrigger(s, loc),
			s.TriggersToday,
			s.AwaitingReply,
		)
	}
	return tw.Flush()
}

func writeStateDetail(w io.Writer, s *domain.ConversationState, recent []domain.SentMessage, loc *time.Location) {
	fmt.Fprintf(w, "Conversation %s\n", s.ConversationID)
	fmt.Fprintf(w, "  user:           %s (%s)\n", s.DisplayName(), s.UserID)
	fmt.Fprintf(w, "  last activity:  %s\n", formatTime(s.LastActivityAt, loc))
	fmt.Fprintf(w, "  last trigger:   %s\n", lastTrigger(s, loc))
	fmt.Fprintf(w, "  triggers today: %d (day %s)\n", s.TriggersToday, s.DayAnchor)
	fmt.Fprintf(w, "  awaiting reply: %t\n", s.AwaitingReply)
	if len(recent) > 0 {
		fmt.Fprintln(w, "  recent sends:")
		for _, m := range recent {
			fmt.Fprintf(w, "    %s  %s\n", formatTime(m.SentAt, loc), m.Content)
		}
	}
}

func describeDecision(d trigger.Decision) string {
	if d.Eligible {
		return "eligible"
	}
	return "blocked (" + string(d.Reason) + ")"
}
