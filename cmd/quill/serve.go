package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillagent/quill/internal/server"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Quill agent server",
		Long: `Start the HTTP server exposing chat, streaming chat, memory, status,
health, and metrics endpoints, plus the periodic memory lifecycle sweep.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  quill serve

  # Start with a custom config and debug logging
  quill serve --config /etc/quill/quill.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	rt, err := buildRuntime(configPath, debug)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rt.memory.RunCleanupLoop(ctx, rt.cfg.MemoryCleanupInterval)

	srv := server.New(rt.agent, rt.memory, rt.llm, server.Config{Addr: rt.cfg.ListenAddr}, rt.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down")
		srv.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}
