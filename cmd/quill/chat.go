package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillagent/quill/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		stream         bool
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a one-shot conversation turn",
		Example: `  quill chat "what did we discuss yesterday?"

  # Continue an existing conversation
  quill chat --conversation abc123 "and after that?"

  # Stream the response as it is generated
  quill chat --stream "summarize the release notes at example.com"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, debug)
			if err != nil {
				return err
			}
			defer rt.Close()

			message := strings.Join(args, " ")
			ctx := cmd.Context()

			if !stream {
				msg, err := rt.agent.Chat(ctx, message, conversationID)
				if err != nil {
					return err
				}
				fmt.Println(msg.Content)
				return nil
			}

			chunks, err := rt.agent.StreamChat(ctx, message, conversationID)
			if err != nil {
				return err
			}
			for chunk := range chunks {
				switch chunk.Type {
				case models.ChunkText:
					fmt.Print(chunk.Content)
				case models.ChunkToolStart:
					fmt.Fprintf(os.Stderr, "[tool: %s]\n", chunk.ToolCall.Name)
				case models.ChunkError:
					fmt.Println()
					return chunk.Err
				}
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to continue")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the response as it is generated")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
