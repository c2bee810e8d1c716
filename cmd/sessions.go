package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/averos/grounded/internal/session"
)

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}

	sessionsCmd.AddCommand(newSessionsListCmd())
	sessionsCmd.AddCommand(newSessionsShowCmd())
	sessionsCmd.AddCommand(newSessionsCloseCmd())
	sessionsCmd.AddCommand(newSessionsDeleteCmd())

	return sessionsCmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent activity first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd.Context())
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), args[0])
		},
	}
}

func newSessionsCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Mark a session closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClose(cmd.Context(), args[0])
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd.Context(), args[0])
		},
	}
}

func runSessionsList(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sessions, err := a.orch.Sessions(ctx, a.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Run 'grounded chat' to start one.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %-40s  %-6s  %s\n",
			s.ID, truncate(s.Title, 40), s.Status, formatTime(s.LastActivityAt))
	}
	return nil
}

func runSessionsShow(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session ID %q: %w", rawID, err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	msgs, err := a.orch.History(ctx, id)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	for _, msg := range msgs {
		role := "you"
		if msg.Role == session.RoleAssistant {
			role = "grounded"
		}
		suffix := ""
		if msg.Truncated {
			suffix = " [truncated]"
		}
		fmt.Printf("%s> %s%s\n\n", role, msg.Content, suffix)
	}
	return nil
}

func runSessionsClose(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session ID %q: %w", rawID, err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.orch.CloseSession(ctx, id); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	fmt.Printf("Closed %s\n", id)
	return nil
}

func runSessionsDelete(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session ID %q: %w", rawID, err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.orch.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Printf("Deleted %s\n", id)
	return nil
}

func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
