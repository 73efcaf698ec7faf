package session

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls session token signing and lifetimes.
//
// Secret has no default: without it the manager refuses to start, since a
// guessable signing key would let anyone forge sessions.
type Config struct {
	Secret        string        `env:"VIBEFUNDER_SESSION_SECRET"`
	TTL           time.Duration `env:"VIBEFUNDER_SESSION_TTL"             envDefault:"24h"`
	RememberMeTTL time.Duration `env:"VIBEFUNDER_SESSION_REMEMBER_ME_TTL" envDefault:"720h"`
	Issuer        string        `env:"VIBEFUNDER_SESSION_ISSUER"          envDefault:"vibefunder"`
}

// LoadConfigFromEnv returns session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			TTL:           24 * time.Hour,
			RememberMeTTL: 720 * time.Hour,
			Issuer:        "vibefunder",
		}
	}
	return cfg
}
