package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v6"
)

// FeedConfig holds configuration for the change-feed transport.
type FeedConfig struct {
	// URL is the websocket endpoint of the backend's change feed.
	URL string `env:"FEED_URL" envDefault:"ws://localhost:4000/feed/v1/listen"`

	// JWTSecret signs the bearer token presented on dial.
	JWTSecret string `env:"FEED_JWT_SECRET"`

	// TokenTTL bounds the lifetime of a minted feed token.
	TokenTTL time.Duration `env:"FEED_TOKEN_TTL" envDefault:"1h"`

	// EventChannelBuffer is the buffer size of the per-kind event channels.
	// Prevents a slow consumer loop from stalling the read pump briefly.
	EventChannelBuffer int `env:"FEED_EVENT_CHANNEL_BUFFER" envDefault:"64"`

	// InitialBackoff is the first reconnect delay after a transport failure.
	InitialBackoff time.Duration `env:"FEED_INITIAL_BACKOFF" envDefault:"500ms"`

	// MaxBackoff caps the reconnect delay. Retries are unlimited while the
	// session is active.
	MaxBackoff time.Duration `env:"FEED_MAX_BACKOFF" envDefault:"30s"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `env:"FEED_HANDSHAKE_TIMEOUT" envDefault:"10s"`
}

// ResyncConfig holds the post-reconnect full-fetch retry policy, independent
// of the transport backoff.
type ResyncConfig struct {
	InitialBackoff time.Duration `env:"RESYNC_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"RESYNC_MAX_BACKOFF" envDefault:"30s"`
	JournalMaxLen  int64         `env:"RESYNC_JOURNAL_MAX_LEN" envDefault:"10000"`
}

// Config holds all configuration for the sync service.
type Config struct {
	ServerHost  string `env:"SERVER_HOST" envDefault:"localhost"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"3040"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"gsm_store"`

	Feed   FeedConfig   `json:"feed"`
	Resync ResyncConfig `json:"resync"`
	Redis  RedisConfig  `json:"redis"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load sync configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Feed); err != nil {
		return nil, errors.New("failed to load feed configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Resync); err != nil {
		return nil, errors.New("failed to load resync configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, errors.New("failed to load redis configuration from environment: " + err.Error())
	}

	if cfg.MongoURI == "" {
		return nil, errors.New("MONGODB_URI environment variable is not set")
	}
	if cfg.Feed.EventChannelBuffer <= 0 {
		cfg.Feed.EventChannelBuffer = 64
	}
	if cfg.Feed.InitialBackoff <= 0 {
		cfg.Feed.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Feed.MaxBackoff < cfg.Feed.InitialBackoff {
		cfg.Feed.MaxBackoff = 30 * time.Second
	}

	return cfg, nil
}

// DefaultConfig returns a Config with default values for local development.
func DefaultConfig() *Config {
	return &Config{
		ServerHost:    "localhost",
		ServerPort:    "3040",
		Environment:   "development",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "gsm_store",
		Feed: FeedConfig{
			URL:                "ws://localhost:4000/feed/v1/listen",
			TokenTTL:           time.Hour,
			EventChannelBuffer: 64,
			InitialBackoff:     500 * time.Millisecond,
			MaxBackoff:         30 * time.Second,
			HandshakeTimeout:   10 * time.Second,
		},
		Resync: ResyncConfig{
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			JournalMaxLen:  10000,
		},
		Redis: DefaultRedisConfig(),
	}
}
