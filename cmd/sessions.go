package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/app"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/conversation"
)

var sessionsReaderID string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a reader's recent sessions",
	RunE:  runSessionsList,
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close [session-id]",
	Short: "Close a session; the next question starts a fresh thread",
	Long: `Close a session. With no argument the current session from the
state file is closed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsClose,
}

var sessionsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the session the CLI is attached to",
	RunE:  runSessionsCurrent,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsReaderID, "reader", "", "reader identifier (required)")
	_ = sessionsListCmd.MarkFlagRequired("reader")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
	sessionsCmd.AddCommand(sessionsCurrentCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionStore opens just the database side of the application. Session
// commands never touch the model stack.
func sessionStore(ctx context.Context) (*conversation.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	pool, err := app.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	store, err := conversation.NewStore(pool, newCLILogger(false))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("creating session store: %w", err)
	}

	return store, pool.Close, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, cleanup, err := sessionStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := store.SessionsForReader(ctx, sessionsReaderID, 20)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}

	for _, s := range sessions {
		state := "closed"
		if s.Active {
			state = "active"
		}
		fmt.Printf("%s  %-8s %s (%s/%s, %s tier, last used %s)\n",
			s.ID, state, s.BookID, s.Mode, s.Lens, s.Tier, formatAge(s.LastInteractionAt))
	}
	return nil
}

func runSessionsClose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var sessionID uuid.UUID
	if len(args) == 1 {
		parsed, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session ID: %s", args[0])
		}
		sessionID = parsed
	} else {
		current, err := conversation.LoadCurrentSessionID()
		if err != nil {
			return fmt.Errorf("reading session state: %w", err)
		}
		if current == nil {
			return fmt.Errorf("no current session; pass a session ID")
		}
		sessionID = *current
	}

	store, cleanup, err := sessionStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.CloseSession(ctx, sessionID); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	// Drop the state file if it pointed at the closed session.
	if current, err := conversation.LoadCurrentSessionID(); err == nil && current != nil && *current == sessionID {
		_ = conversation.ClearCurrentSessionID()
	}

	fmt.Printf("Session %s closed.\n", sessionID)
	return nil
}

func runSessionsCurrent(cmd *cobra.Command, args []string) error {
	current, err := conversation.LoadCurrentSessionID()
	if err != nil {
		return fmt.Errorf("reading session state: %w", err)
	}
	if current == nil {
		fmt.Println("No current session.")
		return nil
	}
	fmt.Println(current)
	return nil
}

func formatAge(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
