package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the event journal.
type RedisConfig struct {
	Host            string `env:"REDIS_HOST" envDefault:"localhost"`
	Port            string `env:"REDIS_PORT" envDefault:"6379"`
	Password        string `env:"REDIS_PASSWORD"`
	Database        int    `env:"REDIS_DATABASE" envDefault:"0"`
	MaxRetries      int    `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns    int    `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	EnableTLS       bool   `env:"REDIS_ENABLE_TLS" envDefault:"false"`
	ConnMaxIdleTime string `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	ConnMaxLifetime string `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h"`
}

// GetAddr returns the host:port address of the Redis server.
func (c RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// DefaultRedisConfig returns Redis settings for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:            "localhost",
		Port:            "6379",
		Database:        0,
		MaxRetries:      3,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: "30m",
		ConnMaxLifetime: "1h",
	}
}

// NewRedisClient creates a new Redis client using the provided configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	connMaxIdleTime, _ := time.ParseDuration(cfg.ConnMaxIdleTime)
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 30 * time.Minute
	}

	connMaxLifetime, _ := time.ParseDuration(cfg.ConnMaxLifetime)
	if connMaxLifetime == 0 {
		connMaxLifetime = 1 * time.Hour
	}

	options := &redis.Options{
		Addr:         cfg.GetAddr(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		ConnMaxIdleTime: connMaxIdleTime,
		ConnMaxLifetime: connMaxLifetime,
	}

	if cfg.EnableTLS {
		options.TLSConfig = &tls.Config{
			ServerName: cfg.Host,
		}
	}

	return redis.NewClient(options)
}
