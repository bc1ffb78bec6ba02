// Package config loads stratctx settings from defaults, a JSON config file
// and STRATCTX_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Storage  StorageConfig
	Session  SessionConfig
	Recovery RecoveryConfig
	Search   SearchConfig
	Ollama   OllamaConfig
	Server   ServerConfig
	Log      LogConfig
}

type StorageConfig struct {
	DataDir string
	// SchemaFile is an optional external .sql schema.
	SchemaFile string
}

type SessionConfig struct {
	Type string
	// BackupSchedule is a cron expression for periodic backups.
	BackupSchedule string
}

type RecoveryConfig struct {
	Window     time.Duration
	MinQuality float64
}

// Embedder names accepted by search.embedder.
const (
	EmbedderFeatures = "features"
	EmbedderOllama   = "ollama"
)

type SearchConfig struct {
	Embedder     string
	CacheSize    int
	MaxQueryTime time.Duration
	MaxResults   int
	MinRelevance float64
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type ServerConfig struct {
	Port           int
	MaxConnections int
	APIToken       string
}

type LogConfig struct {
	Level string
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Session: SessionConfig{
			Type:           "strategic_leadership",
			BackupSchedule: "*/5 * * * *",
		},
		Recovery: RecoveryConfig{
			Window:     2 * time.Hour,
			MinQuality: 0.6,
		},
		Search: SearchConfig{
			Embedder:     EmbedderFeatures,
			CacheSize:    10000,
			MaxQueryTime: 500 * time.Millisecond,
			MaxResults:   10,
			MinRelevance: 0.3,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Server: ServerConfig{
			Port:           4100,
			MaxConnections: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/stratctx/config.json and applies environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Search.Embedder {
	case EmbedderFeatures, EmbedderOllama:
	default:
		return fmt.Errorf("search.embedder must be %q or %q, got %q", EmbedderFeatures, EmbedderOllama, c.Search.Embedder)
	}
	if c.Recovery.MinQuality < 0 || c.Recovery.MinQuality > 1 {
		return fmt.Errorf("recovery.min_quality must be within [0, 1], got %v", c.Recovery.MinQuality)
	}
	if c.Search.MinRelevance < 0 || c.Search.MinRelevance > 1 {
		return fmt.Errorf("search.min_relevance must be within [0, 1], got %v", c.Search.MinRelevance)
	}
	if c.Recovery.Window <= 0 {
		return fmt.Errorf("recovery.window must be positive, got %v", c.Recovery.Window)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "stratctx-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "stratctx")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "stratctx", "config.json")
}
