package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads the environment into the config through the env tags of
// ServerConfig. Put it first: options applied before it are overwritten by
// tag defaults.
//
// A postgres:// or postgresql:// DATABASE_URL without DATABASE_TYPE
// selects postgres.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		if c.DatabaseType == "memory" && isPostgresURL(c.DatabaseURL) {
			c.DatabaseType = "postgres"
		}
		return nil
	}
}

// Usage describes every environment variable WithEnv reads.
func Usage() string {
	var cfg ServerConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}

func isPostgresURL(url string) bool {
	return len(url) > 13 && url[:13] == "postgresql://" ||
		len(url) > 11 && url[:11] == "postgres://"
}
