package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t, "CHAT_BOT_TOKEN", "CHAT_CHANNELS", "EMBED_API_KEY", "API_KEY", "WHITELIST_KEYS")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_BOT_TOKEN")
	assert.Contains(t, err.Error(), "CHAT_CHANNELS")
	assert.Contains(t, err.Error(), "EMBED_API_KEY")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "CHAT_BOT_TOKEN", "CHAT_CHANNELS", "EMBED_API_KEY", "API_KEY", "WHITELIST_KEYS",
		"VECTOR_INDEX_NAME", "REFRESH_INTERVAL_HOURS", "CHUNK_SIZE", "CHUNK_OVERLAP", "LISTEN_ADDR")
	os.Setenv("CHAT_BOT_TOKEN", "xoxb-test")
	os.Setenv("CHAT_CHANNELS", "C1,C2, C3")
	os.Setenv("EMBED_API_KEY", "sk-test")
	os.Setenv("API_KEY", "mcp_key_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2", "C3"}, cfg.ChatChannels)
	assert.Equal(t, "messages", cfg.VectorIndexName)
	assert.Equal(t, 1, cfg.RefreshIntervalHours)
	assert.Equal(t, 8000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr)
	assert.Equal(t, []string{"mcp_key_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, cfg.WhitelistKeys)
}
