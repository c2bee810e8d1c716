package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/averos/grounded/internal/chat"
	"github.com/averos/grounded/internal/session"
)

func newChatCmd() *cobra.Command {
	var sessionFlag string

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation over the indexed corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), sessionFlag)
		},
	}
	chatCmd.Flags().StringVar(&sessionFlag, "session", "", "resume an existing session by ID")

	return chatCmd
}

func runChat(ctx context.Context, sessionFlag string) error {
	sessionID := uuid.New()
	if sessionFlag != "" {
		parsed, err := uuid.Parse(sessionFlag)
		if err != nil {
			return fmt.Errorf("invalid session ID %q: %w", sessionFlag, err)
		}
		sessionID = parsed
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if sessionFlag != "" {
		if err := printHistory(ctx, a, sessionID); err != nil {
			return err
		}
	}

	fmt.Printf("Session %s (Ctrl+D to exit)\n\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println("\nBye.")
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" || input == "/quit" {
			fmt.Println("Bye.")
			break
		}

		if err := streamTurn(ctx, a, sessionID, input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func streamTurn(ctx context.Context, a *app, sessionID uuid.UUID, input string) error {
	events, err := a.orch.Stream(ctx, sessionID, a.cfg.OwnerID, input)
	if err != nil {
		return err
	}

	fmt.Print("grounded> ")
	for ev := range events {
		switch ev.Type {
		case chat.EventContent:
			fmt.Print(ev.Content)
		case chat.EventComplete:
			fmt.Println()
			if ev.Grounded && len(ev.Sources) > 0 {
				fmt.Printf("(%d sources)\n", len(ev.Sources))
			}
		case chat.EventError:
			fmt.Println()
			return fmt.Errorf("%s", ev.Content)
		}
	}
	return nil
}

func printHistory(ctx context.Context, a *app, sessionID uuid.UUID) error {
	msgs, err := a.orch.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session history: %w", err)
	}
	for _, msg := range msgs {
		prefix := "you"
		if msg.Role == session.RoleAssistant {
			prefix = "grounded"
		}
		fmt.Printf("%s> %s\n", prefix, msg.Content)
	}
	if len(msgs) > 0 {
		fmt.Println()
	}
	return nil
}
