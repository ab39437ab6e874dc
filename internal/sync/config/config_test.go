package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresMongoURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI")
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3040", cfg.ServerPort)
	assert.Equal(t, "gsm_store", cfg.MongoDatabase)
	assert.Equal(t, "ws://localhost:4000/feed/v1/listen", cfg.Feed.URL)
	assert.Equal(t, 64, cfg.Feed.EventChannelBuffer)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Feed.MaxBackoff)
	assert.Equal(t, int64(10000), cfg.Resync.JournalMaxLen)
}

func TestLoadConfigReadsOverrides(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("FEED_URL", "wss://feed.example.com/listen")
	t.Setenv("FEED_INITIAL_BACKOFF", "250ms")
	t.Setenv("RESYNC_JOURNAL_MAX_LEN", "500")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "wss://feed.example.com/listen", cfg.Feed.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Feed.InitialBackoff)
	assert.Equal(t, int64(500), cfg.Resync.JournalMaxLen)
}

func TestLoadConfigRepairsBackoffOrdering(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("FEED_INITIAL_BACKOFF", "10s")
	t.Setenv("FEED_MAX_BACKOFF", "1s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cfg.Feed.MaxBackoff, cfg.Feed.InitialBackoff)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.ServerHost)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, time.Hour, cfg.Feed.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Resync.MaxBackoff)
}

func TestRedisConfigGetAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache", Port: "6380"}
	assert.Equal(t, "cache:6380", cfg.GetAddr())
}
