// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (runtime override)
//  2. Config file (~/.marginalia/config.yaml)
//  3. Defaults
//
// Categories:
//   - AI: completion models per subscription tier, embedder model
//   - Storage: PostgreSQL connection (storage.go)
//   - Serve: HTTP listen address for the API server
//
// Validation is fail-fast with sentinel errors so callers can use errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a tier model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses 768 (knowledge.VectorDimension).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultHistoryWindow is the number of raw conversation turns replayed
	// verbatim into each prompt.
	DefaultHistoryWindow = 6

	// MaxHistoryWindow bounds the history window to keep prompts tractable.
	MaxHistoryWindow = 50
)

// Config stores application configuration.
type Config struct {
	// Completion models by subscription tier.
	ModelFree string `mapstructure:"model_free"`
	ModelPlus string `mapstructure:"model_plus"`
	ModelPro  string `mapstructure:"model_pro"`

	// EmbedderModel generates chunk and query embeddings.
	EmbedderModel string `mapstructure:"embedder_model"`

	// HistoryWindow is the number of raw turns included in each prompt.
	HistoryWindow int `mapstructure:"history_window"`

	// CompletionTimeoutSeconds bounds a single completion call.
	CompletionTimeoutSeconds int `mapstructure:"completion_timeout_seconds"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// ListenAddr is the API server bind address (serve mode).
	ListenAddr string `mapstructure:"listen_addr"`

	// Tracing enables the OTLP trace exporter (serve mode).
	Tracing bool `mapstructure:"tracing"`
}

// Load loads configuration with env > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".marginalia")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("model_free", "googleai/gemini-2.5-flash-lite")
	viper.SetDefault("model_plus", "googleai/gemini-2.5-flash")
	viper.SetDefault("model_pro", "googleai/gemini-2.5-pro")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("history_window", DefaultHistoryWindow)
	viper.SetDefault("completion_timeout_seconds", 60)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "marginalia")
	viper.SetDefault("postgres_password", "marginalia_dev_password")
	viper.SetDefault("postgres_db_name", "marginalia")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", "127.0.0.1:8477")
	viper.SetDefault("tracing", false)
}

// bindEnvVariables binds explicit environment overrides.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via viper;
// Validate() only checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_free", "MARGINALIA_MODEL_FREE")
	mustBind("model_plus", "MARGINALIA_MODEL_PLUS")
	mustBind("model_pro", "MARGINALIA_MODEL_PRO")
	mustBind("embedder_model", "MARGINALIA_EMBEDDER_MODEL")
	mustBind("listen_addr", "MARGINALIA_LISTEN_ADDR")
	mustBind("tracing", "MARGINALIA_TRACING")
}

// Validate checks the configuration, failing fast on the first problem.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingAPIKey)
	}

	for _, m := range []struct{ name, value string }{
		{"model_free", c.ModelFree},
		{"model_plus", c.ModelPlus},
		{"model_pro", c.ModelPro},
	} {
		if m.value == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidModelName, m.name)
		}
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidEmbedderModel)
	}

	if c.HistoryWindow < 1 || c.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: history_window must be in [1,%d], got %d",
			ErrInvalidHistoryWindow, MaxHistoryWindow, c.HistoryWindow)
	}

	return c.validateStorage()
}
