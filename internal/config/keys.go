package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "STRATCTX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.schema_file", typ: kString, env: "STRATCTX_STORAGE_SCHEMA_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.SchemaFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SchemaFile },
	},
	{
		key: "session.type", typ: kString, env: "STRATCTX_SESSION_TYPE",
		apply:   func(cfg *Config, v any) { cfg.Session.Type = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Type },
	},
	{
		key: "session.backup_schedule", typ: kString, env: "STRATCTX_SESSION_BACKUP_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Session.BackupSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.BackupSchedule },
	},
	{
		key: "recovery.window", typ: kDuration, env: "STRATCTX_RECOVERY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Recovery.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Recovery.Window },
	},
	{
		key: "recovery.min_quality", typ: kFloat, env: "STRATCTX_RECOVERY_MIN_QUALITY",
		apply:   func(cfg *Config, v any) { cfg.Recovery.MinQuality = v.(float64) },
		extract: func(cfg Config) any { return cfg.Recovery.MinQuality },
	},
	{
		key: "search.embedder", typ: kString, env: "STRATCTX_SEARCH_EMBEDDER",
		apply:   func(cfg *Config, v any) { cfg.Search.Embedder = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Embedder },
	},
	{
		key: "search.cache_size", typ: kInt, env: "STRATCTX_SEARCH_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Search.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.CacheSize },
	},
	{
		key: "search.max_query_time", typ: kDuration, env: "STRATCTX_SEARCH_MAX_QUERY_TIME",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxQueryTime = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.MaxQueryTime },
	},
	{
		key: "search.max_results", typ: kInt, env: "STRATCTX_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "search.min_relevance", typ: kFloat, env: "STRATCTX_SEARCH_MIN_RELEVANCE",
		apply:   func(cfg *Config, v any) { cfg.Search.MinRelevance = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.MinRelevance },
	},
	{
		key: "ollama.base_url", typ: kString, env: "STRATCTX_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "STRATCTX_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "server.port", typ: kInt, env: "STRATCTX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "STRATCTX_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.api_token", typ: kString, env: "STRATCTX_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "STRATCTX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the Go type expected by a keySpec's apply.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring invalid config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring invalid environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
