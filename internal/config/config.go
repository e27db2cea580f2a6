// Package config loads wallet engine configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration. Passed explicitly; no ambient
// global state.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string

	ProviderBaseURL  string
	ProviderTimeout  time.Duration
	RateCacheTTL     time.Duration
	RateStaleCeiling time.Duration

	// MaxOperationAmount caps the amount a single fund or conversion may
	// move, as a decimal string. Empty disables the cap.
	MaxOperationAmount string
}

// Load reads configuration from the environment. Every value has a
// default except DATABASE_URL and RATE_PROVIDER_URL, which the caller
// decides how to handle when empty.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig() // missing .env is fine; env vars still apply

	viper.BindEnv("port", "PORT")
	viper.BindEnv("database_url", "DATABASE_URL")
	viper.BindEnv("redis_url", "REDIS_URL")
	viper.BindEnv("rate_provider_url", "RATE_PROVIDER_URL")
	viper.BindEnv("rate_provider_timeout", "RATE_PROVIDER_TIMEOUT")
	viper.BindEnv("rate_cache_ttl", "RATE_CACHE_TTL")
	viper.BindEnv("rate_stale_ceiling", "RATE_STALE_CEILING")
	viper.BindEnv("max_operation_amount", "MAX_OPERATION_AMOUNT")

	viper.SetDefault("port", "8080")
	viper.SetDefault("rate_provider_timeout", 5*time.Second)
	viper.SetDefault("rate_cache_ttl", 60*time.Second)
	viper.SetDefault("rate_stale_ceiling", time.Hour)

	return &Config{
		Port:             viper.GetString("port"),
		DatabaseURL:      viper.GetString("database_url"),
		RedisURL:         viper.GetString("redis_url"),
		ProviderBaseURL:  viper.GetString("rate_provider_url"),
		ProviderTimeout:  viper.GetDuration("rate_provider_timeout"),
		RateCacheTTL:     viper.GetDuration("rate_cache_ttl"),
		RateStaleCeiling: viper.GetDuration("rate_stale_ceiling"),

		MaxOperationAmount: viper.GetString("max_operation_amount"),
	}
}
