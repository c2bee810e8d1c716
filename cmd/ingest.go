package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/averos/grounded/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Manage the document corpus",
	}

	ingestCmd.AddCommand(newIngestAddCmd())
	ingestCmd.AddCommand(newIngestListCmd())
	ingestCmd.AddCommand(newIngestRemoveCmd())

	return ingestCmd
}

func newIngestAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path-or-url>...",
		Short: "Extract, chunk, embed and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestAdd(cmd.Context(), args)
		},
	}
}

func newIngestListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestList(cmd.Context())
		},
	}
}

func newIngestRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <document-id>",
		Short: "Remove a document and its chunks from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestRemove(cmd.Context(), args[0])
		},
	}
}

func runIngestAdd(ctx context.Context, targets []string) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var failed int
	for _, target := range targets {
		start := time.Now()

		result, err := ingestOne(ctx, a, target)
		if err != nil {
			failed++
			fmt.Printf("✗ %s: %v\n", target, err)
			continue
		}

		switch {
		case result.Skipped:
			fmt.Printf("- %s: no extractable text, skipped\n", target)
		case result.Reused:
			fmt.Printf("= %s: already indexed (%d chunks)\n", target, result.Document.ChunkCount)
		default:
			fmt.Printf("✓ %s: %d chunks in %s (id %s)\n",
				target, result.Document.ChunkCount, time.Since(start).Round(time.Millisecond), result.Document.ID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(targets))
	}
	return nil
}

func runIngestList(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	docs, err := a.docs.List(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents indexed. Run 'grounded ingest add <path-or-url>' first.")
		return nil
	}

	for _, doc := range docs {
		fmt.Printf("%s  %-40s  %3d chunks  %s  %s\n",
			doc.ID, truncate(doc.Title, 40), doc.ChunkCount, doc.Origin, doc.Location)
	}
	return nil
}

func runIngestRemove(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", rawID, err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.pipeline.DeleteSource(ctx, id); err != nil {
		return fmt.Errorf("removing document: %w", err)
	}
	fmt.Printf("Removed %s\n", id)
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// isURL distinguishes web targets from filesystem paths.
func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

func ingestOne(ctx context.Context, a *app, target string) (ingest.Result, error) {
	if isURL(target) {
		return a.pipeline.IngestURL(ctx, target)
	}
	return a.pipeline.IngestFile(ctx, target)
}
