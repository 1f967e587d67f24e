// Package config loads the environment-sourced configuration surface
// described in spec §6.3, following the reference codebase's
// godotenv-then-os.Getenv pattern.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"chatvector/internal/errs"
)

// Config is the flat, fully-resolved configuration surface for the process.
type Config struct {
	ChatBotToken  string
	ChatChannels  []string
	EmbedAPIKey   string
	AnthropicKey  string

	VectorAPIKey     string
	VectorIndexName  string
	VectorDSN        string
	VectorMetric     string

	RefreshIntervalHours int

	ChatRateLimitPerMinute int

	WhitelistKeys []string

	ListenAddr string

	ChunkSize    int
	ChunkOverlap int

	PromptPath string

	SearchCacheRedisAddr string

	Telemetry TelemetryConfig
}

// TelemetryConfig controls the OpenTelemetry exporter.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

const (
	defaultVectorIndexName       = "messages"
	defaultRefreshIntervalHours  = 1
	defaultChatRateLimitPerMin   = 50
	defaultListenAddr            = "0.0.0.0:5000"
	defaultChunkSize             = 8000
	defaultChunkOverlap          = 200
	defaultVectorMetric          = "cosine"
	defaultPromptPath            = "enhancer_prompt.yaml"
)

// Load assembles Config from the process environment, after attempting to
// load a local .env file (real environment variables always take
// precedence over anything in .env, matching the reference loader's
// godotenv.Overload semantics inverted for safety -- Overload would let
// .env win, so this uses Load, which never overrides an already-set
// variable).
func Load() (Config, error) {
	_ = godotenv.Load()

	var missing []string
	get := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }
	require := func(key string) string {
		v := get(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{}
	cfg.ChatBotToken = require("CHAT_BOT_TOKEN")
	if chans := require("CHAT_CHANNELS"); chans != "" {
		cfg.ChatChannels = splitCSV(chans)
	}
	cfg.EmbedAPIKey = require("EMBED_API_KEY")
	cfg.AnthropicKey = get("ANTHROPIC_API_KEY")

	cfg.VectorAPIKey = get("VECTOR_API_KEY")
	cfg.VectorDSN = firstNonEmpty(get("VECTOR_DSN"), "http://localhost:6334")
	cfg.VectorIndexName = firstNonEmpty(get("VECTOR_INDEX_NAME"), defaultVectorIndexName)
	cfg.VectorMetric = firstNonEmpty(get("VECTOR_METRIC"), defaultVectorMetric)

	cfg.RefreshIntervalHours = intOrDefault(get("REFRESH_INTERVAL_HOURS"), defaultRefreshIntervalHours)
	cfg.ChatRateLimitPerMinute = intOrDefault(get("CHAT_RATE_LIMIT_PER_MINUTE"), defaultChatRateLimitPerMin)

	keys := firstNonEmpty(get("WHITELIST_KEYS"), get("API_KEY"))
	if keys == "" {
		missing = append(missing, "API_KEY or WHITELIST_KEYS")
	} else {
		cfg.WhitelistKeys = splitCSV(keys)
	}

	cfg.ListenAddr = firstNonEmpty(get("LISTEN_ADDR"), defaultListenAddr)

	cfg.ChunkSize = intOrDefault(get("CHUNK_SIZE"), defaultChunkSize)
	cfg.ChunkOverlap = intOrDefault(get("CHUNK_OVERLAP"), defaultChunkOverlap)

	cfg.PromptPath = firstNonEmpty(get("ENHANCER_PROMPT_PATH"), defaultPromptPath)
	cfg.SearchCacheRedisAddr = get("SEARCH_CACHE_REDIS_ADDR")

	cfg.Telemetry = TelemetryConfig{
		Enabled:     boolOrDefault(get("OTEL_ENABLED"), false),
		Endpoint:    get("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    boolOrDefault(get("OTEL_EXPORTER_OTLP_INSECURE"), true),
		ServiceName: firstNonEmpty(get("OTEL_SERVICE_NAME"), "chatvector"),
	}

	if len(missing) > 0 {
		return cfg, errs.New(errs.KindConfig, false, "missing required configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolOrDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
