package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fletcher-io/fletcher/internal/config"
)

var (
	errMissingDatabaseURL = errors.New("DATABASE_URL is required")
	errMissingTable       = errors.New("migration table name cannot be empty")
)

// Config carries the migrator's settings.
type Config struct {
	DatabaseURL    string
	MigrationTable string
}

// LoadConfig reads the migrator configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errMissingDatabaseURL
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return errMissingTable
	}

	return nil
}

// String renders the configuration with the database password masked.
func (c *Config) String() string {
	return fmt.Sprintf("config{database: %s, table: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL hides the password in a connection URL for logging.
// Strings without a URL scheme or without userinfo pass through as-is.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	afterScheme := url[schemeEnd+3:]

	// The last @ separates userinfo from the host, in case the password
	// itself contains one.
	atIndex := strings.LastIndex(afterScheme, "@")
	if atIndex == -1 {
		return url
	}

	userInfo := afterScheme[:atIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 || colonIndex == len(userInfo)-1 {
		return url
	}

	return url[:schemeEnd+3] + userInfo[:colonIndex] + ":***" + afterScheme[atIndex:]
}
