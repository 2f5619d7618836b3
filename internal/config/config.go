package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName  string        `envconfig:"SERVICE_NAME" default:"chatsync"`
	HTTPAddr     string        `envconfig:"HTTP_ADDR" default:":8090"`
	StoreBackend string        `envconfig:"STORE_BACKEND" default:"memory"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPrefix  string        `envconfig:"REDIS_PREFIX" default:"rtdb"`
	OpTimeout    time.Duration `envconfig:"OP_TIMEOUT" default:"5s"`
	OpMaxRetries int           `envconfig:"OP_MAX_RETRIES" default:"2"`
	OpBackoff    time.Duration `envconfig:"OP_RETRY_BACKOFF" default:"200ms"`
	// UserID is the participant the process syncs for, supplied by the
	// session boundary. Empty means no chat-list subscription at boot.
	UserID string `envconfig:"USER_ID"`
}

func Load() (*Config, error) {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "redis" {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return &cfg, nil
}
