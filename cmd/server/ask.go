package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	conversationID string
	askTimeout     time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run one request cycle and print the response",
	Long: `Run one request cycle against an in-process copilot.

Pass --conversation with a sqlite session store to continue a conversation
across invocations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (default: a new one)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "Request timeout")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	id := conversationID
	if id == "" {
		id = uuid.NewString()
	}
	query := strings.Join(args, " ")
	logger.Debug("asking", zap.String("conversation", id), zap.String("query", query))

	resp, err := e.copilot.Ask(ctx, id, query)
	if resp == nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if encErr := enc.Encode(struct {
		ConversationID string `json:"conversation_id"`
		Prompt         string `json:"prompt"`
		Response       string `json:"response"`
		Title          string `json:"title"`
	}{id, resp.Prompt, resp.Response, resp.Title}); encErr != nil {
		return encErr
	}
	return err
}
