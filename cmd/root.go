// Package cmd implements the grounded CLI: document ingestion, one-shot
// questions and interactive chat over an indexed corpus.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "grounded",
		Short: "Question answering grounded in your own documents",
		Long: `grounded indexes local files and web pages, then answers questions
using only the indexed content. When the corpus cannot support an answer
it says so instead of guessing.

Run 'grounded ingest' to index documents, 'grounded ask' for a one-shot
question, or 'grounded chat' for an interactive conversation.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), "")
		},
	}

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute is the entry point called from main.
func Execute() error {
	return NewRootCmd().Execute()
}
