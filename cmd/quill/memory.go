package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillagent/quill/pkg/models"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the agent's memory",
	}
	cmd.AddCommand(buildMemorySearchCmd(), buildMemoryCleanupCmd(), buildMemoryStatsCmd())
	return cmd
}

func buildMemorySearchCmd() *cobra.Command {
	var (
		configPath string
		topK       int
		memoryType string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored memories",
		Example: `  quill memory search "deploy process"
  quill memory search --type episodic --top-k 10 "release"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			query := strings.Join(args, " ")
			entries, err := rt.memory.Retrieve(cmd.Context(), query, topK, models.MemoryType(memoryType))
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, entry := range entries {
				fmt.Printf("%s  [%s, importance %.2f, accessed %d]\n  %s\n",
					entry.ID, entry.MemoryType, entry.Importance, entry.AccessCount, entry.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVar(&topK, "top-k", 5, "Maximum results")
	cmd.Flags().StringVar(&memoryType, "type", "", "Filter by memory type (episodic, semantic, procedural)")

	return cmd
}

func buildMemoryCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one TTL and capacity sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.memory.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("expired %d, evicted %d\n", result.Expired, result.Evicted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildMemoryStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory storage and cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.memory.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("entries:        %d\n", stats.TotalEntries)
			fmt.Printf("db path:        %s\n", stats.DBPath)
			fmt.Printf("fts enabled:    %v\n", stats.FTSEnabled)
			fmt.Printf("cache entries:  %d\n", stats.CacheEntries)
			fmt.Printf("cache hits:     %d\n", stats.CacheHits)
			fmt.Printf("cache misses:   %d\n", stats.CacheMisses)
			fmt.Printf("cache hit rate: %.1f%%\n", stats.CacheHitRate*100)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
