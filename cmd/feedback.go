package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/app"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/conversation"
)

var feedbackMessageID string

var feedbackCmd = &cobra.Command{
	Use:   "feedback [label]",
	Short: "Rate an answer: helpful, too_long, too_short, or off_topic",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackMessageID, "message", "", "message ID to rate (required)")
	_ = feedbackCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	label := conversation.FeedbackLabel(args[0])
	if !label.Valid() {
		return fmt.Errorf("invalid label %q (expected helpful, too_long, too_short, or off_topic)", args[0])
	}

	messageID, err := uuid.Parse(feedbackMessageID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, newCLILogger(false))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := a.Companion.RecordFeedback(ctx, messageID, label); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}

	fmt.Println("Feedback recorded. Future answers will adapt.")
	return nil
}
