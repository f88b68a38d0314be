// Package main provides the CLI entry point for the Quill agent server.
//
// Quill is a single-user conversational agent: an LLM conversation loop
// with tool execution, persistent memory, and provider failover.
//
// Start the server:
//
//	quill serve --config quill.yaml
//
// Run a one-shot conversation turn:
//
//	quill chat "summarize yesterday's notes"
//
// Configuration can also be provided via QUILL_-prefixed environment
// variables (QUILL_ANTHROPIC_API_KEY, QUILL_LLM_PROVIDER, ...).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill - personal conversational agent server",
		Long: `Quill runs a single-user conversational agent: an LLM conversation
loop with shell and web tools, persistent SQLite-backed memory, and
failover across Anthropic, OpenAI, and DashScope providers.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildMemoryCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quill %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
