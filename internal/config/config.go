package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	// RelayURL is where clients reach the relay hub websocket endpoint.
	RelayURL string `env:"RELAY_URL" envDefault:"ws://127.0.0.1:8080/relay"`

	// TokenPrivateKey holds the signing key as a JWK message. Empty means a
	// fresh RSA key is generated at startup, which is fine for a single relay.
	TokenPrivateKey string `env:"TOKEN_PRIVATE_KEY"`

	TokenIssuer string        `env:"TOKEN_ISSUER" envDefault:"breakout-platform"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	// SessionExpiry is the default breakout session lifetime when an owner
	// enables expiry without giving an explicit duration.
	SessionExpiry time.Duration `env:"SESSION_EXPIRY" envDefault:"15m"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

var Module = fx.Module("config", fx.Provide(Load))
