package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from TAG_* environment variables
type Config struct {
	Addr               string        `env:"TAG_ADDR" envDefault:":8080"`
	ClientDir          string        `env:"TAG_CLIENT_DIR"`
	PublicURL          string        `env:"TAG_PUBLIC_URL"`
	WorldWidth         int           `env:"TAG_WORLD_WIDTH" envDefault:"60"`
	WorldHeight        int           `env:"TAG_WORLD_HEIGHT" envDefault:"40"`
	TileSize           float64       `env:"TAG_TILE_SIZE" envDefault:"48"`
	TagRadius          float64       `env:"TAG_RADIUS" envDefault:"32"`
	TagCooldown        time.Duration `env:"TAG_COOLDOWN" envDefault:"200ms"`
	LivenessTimeout    time.Duration `env:"TAG_LIVENESS_TIMEOUT" envDefault:"90s"`
	MaxPlayers         int           `env:"TAG_MAX_PLAYERS" envDefault:"50"`
	MaxSessions        int           `env:"TAG_MAX_SESSIONS" envDefault:"100"`
	SessionIdleTimeout time.Duration `env:"TAG_SESSION_IDLE_TIMEOUT" envDefault:"30s"`
	MaxMessagesPerSec  int           `env:"TAG_MAX_MESSAGES_PER_SEC" envDefault:"120"`
	JWTSecret          string        `env:"TAG_JWT_SECRET"`
	DBPath             string        `env:"TAG_DB_PATH"`
	OTelEndpoint       string        `env:"TAG_OTEL_ENDPOINT"`
	OTelEnabled        bool          `env:"TAG_OTEL_ENABLED" envDefault:"true"`
}

// LoadConfig parses the environment and validates the result
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no session could be built from
func (c Config) Validate() error {
	if c.WorldWidth < 3 || c.WorldHeight < 3 {
		return fmt.Errorf("world %dx%d: %w", c.WorldWidth, c.WorldHeight, ErrInvalidWorldSize)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("TAG_TILE_SIZE must be positive, got %v", c.TileSize)
	}
	if c.TagRadius <= 0 {
		return fmt.Errorf("TAG_RADIUS must be positive, got %v", c.TagRadius)
	}
	if c.TagCooldown < 0 || c.LivenessTimeout < 0 || c.SessionIdleTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.MaxMessagesPerSec <= 0 {
		return fmt.Errorf("TAG_MAX_MESSAGES_PER_SEC must be positive, got %d", c.MaxMessagesPerSec)
	}
	return nil
}

// GameConfig returns the per-session part of the configuration
func (c Config) GameConfig() GameConfig {
	return GameConfig{
		Width:           c.WorldWidth,
		Height:          c.WorldHeight,
		TileSize:        c.TileSize,
		TagRadius:       c.TagRadius,
		TagCooldown:     c.TagCooldown,
		LivenessTimeout: c.LivenessTimeout,
		MaxPlayers:      c.MaxPlayers,
	}
}
