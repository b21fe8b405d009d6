package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/app"
	"github.com/marginalia-app/marginalia/internal/companion"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/log"
)

var (
	askReaderID string
	askBookID   string
	askSection  int
	askMode     string
	askLens     string
	askTier     string
	askVerbose  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the book you are reading",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askReaderID, "reader", "", "reader identifier (required)")
	askCmd.Flags().StringVar(&askBookID, "book", "", "book identifier (required)")
	askCmd.Flags().IntVar(&askSection, "section", -1, "section index you are currently reading")
	askCmd.Flags().StringVar(&askMode, "mode", string(conversation.ModeFiction), "reading mode: fiction or nonfiction")
	askCmd.Flags().StringVar(&askLens, "lens", string(conversation.LensLiterary), "reading lens: literary or knowledge")
	askCmd.Flags().StringVar(&askTier, "tier", string(conversation.TierFree), "subscription tier: free, plus, or pro")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "enable debug logging")
	_ = askCmd.MarkFlagRequired("reader")
	_ = askCmd.MarkFlagRequired("book")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := newCLILogger(askVerbose)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	query := companion.Query{
		ReaderID: askReaderID,
		BookID:   askBookID,
		Text:     strings.Join(args, " "),
		Mode:     conversation.Mode(askMode),
		Lens:     conversation.Lens(askLens),
		Tier:     conversation.Tier(askTier),
	}
	if askSection >= 0 {
		section := askSection
		query.SectionIndex = &section
	}
	if !query.Tier.Valid() {
		return fmt.Errorf("invalid tier %q (expected free, plus, or pro)", askTier)
	}

	result, err := a.Companion.GenerateResponse(ctx, query)
	if err != nil {
		return fmt.Errorf("generating response: %w", err)
	}

	// Remember the session so follow-up commands can target it.
	if result.SessionID != uuid.Nil {
		if err := conversation.SaveCurrentSessionID(result.SessionID); err != nil {
			logger.Warn("could not save session state", "error", err)
		}
	}

	fmt.Println(result.Response)
	if result.Degraded {
		fmt.Println()
		fmt.Println("(answered without conversation memory)")
	}
	if askVerbose && result.MessageID != uuid.Nil {
		fmt.Printf("\nmessage: %s\n", result.MessageID)
	}

	return nil
}

// newCLILogger keeps command output clean unless --verbose is set.
func newCLILogger(verbose bool) log.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
