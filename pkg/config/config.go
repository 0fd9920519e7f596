// Package config loads daemon configuration: server settings from
// environment variables, and the genesis profile (tiers, breakers,
// governance parameters, rosters) from a versioned YAML document.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DBDriver    string // "sqlite" or "postgres"
	DatabaseURL string
	RedisURL    string // empty disables the event stream mirror
	JWTSecret   string
	ProfilePath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file store
		dbURL = "file:karadao.db"
	}

	profile := os.Getenv("GENESIS_PROFILE")
	if profile == "" {
		profile = "profiles/genesis.yaml"
	}

	return &Config{
		Port:        port,
		LogLevel:    logLevel,
		DBDriver:    driver,
		DatabaseURL: dbURL,
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ProfilePath: profile,
	}
}
