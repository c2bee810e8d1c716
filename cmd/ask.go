package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var showSources bool

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a one-shot question against the indexed corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), showSources)
		},
	}
	askCmd.Flags().BoolVar(&showSources, "sources", false, "list the source documents backing the answer")

	return askCmd
}

func runAsk(ctx context.Context, question string, showSources bool) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := a.resolver.Resolve(ctx, question, nil)
	if err != nil {
		return err
	}

	fmt.Println(res.Answer)

	if showSources && res.Grounded {
		fmt.Println()
		fmt.Println("Sources:")
		for _, id := range res.Sources {
			doc, err := a.docs.Get(ctx, id)
			if err != nil {
				fmt.Printf("  %s\n", id)
				continue
			}
			fmt.Printf("  %s (%s)\n", doc.Title, doc.Location)
		}
	}
	return nil
}
