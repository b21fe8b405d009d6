package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/api"
	"github.com/marginalia-app/marginalia/internal/app"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/log"
	"github.com/marginalia-app/marginalia/internal/observability"
)

var (
	serveAddr    string
	serveJSONLog bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveJSONLog, "json-log", false, "log in JSON format")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: serveJSONLog})
	logger.Info("starting marginalia", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if cfg.Tracing {
		shutdown, err := observability.Setup(ctx, observability.Config{
			ServiceName: "marginalia",
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown error", "error", err)
			}
		}()
	}

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.NewServer(a.Companion, a.Sessions, a.Pool, logger)
	return server.Run(ctx, addr)
}
