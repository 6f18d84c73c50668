package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config maps the whole application configuration. Values come from
// ./configs/config.yaml with environment variable overrides
// (e.g. SERVER_PORT, AUTH_JWT_SECRET).
type Config struct {
	Server struct {
		Port    int    `mapstructure:"port"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"server"`

	Database struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"database"`

	// Analytics controls the asynchronous visit pipeline.
	Analytics struct {
		BufferSize  int `mapstructure:"buffer_size"`
		WorkerCount int `mapstructure:"worker_count"`
	} `mapstructure:"analytics"`

	// Geo configures the enrichment provider. When MMDBPath is set the local
	// MaxMind database is used; otherwise ProviderURL is queried over HTTP.
	Geo struct {
		ProviderURL    string `mapstructure:"provider_url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		MMDBPath       string `mapstructure:"mmdb_path"`
	} `mapstructure:"geo"`

	Auth struct {
		JWTSecret     string `mapstructure:"jwt_secret"`
		TokenTTLHours int    `mapstructure:"token_ttl_hours"`
	} `mapstructure:"auth"`

	// Cache is optional; an empty RedisAddr disables the resolve cache.
	Cache struct {
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		TTLMinutes    int    `mapstructure:"ttl_minutes"`
	} `mapstructure:"cache"`

	Monitor struct {
		IntervalMinutes int `mapstructure:"interval_minutes"`
	} `mapstructure:"monitor"`
}

// GeoTimeout returns the enrichment deadline as a duration.
func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.Geo.TimeoutSeconds) * time.Second
}

// TokenTTL returns the owner token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// CacheTTL returns the resolve-cache entry lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// LoadConfig loads the application configuration using Viper, with defaults
// for every key so the service starts without a config file.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.AddConfigPath("./configs")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("database.name", "linktrack.db")
	viper.SetDefault("analytics.buffer_size", 1000)
	viper.SetDefault("analytics.worker_count", 5)
	viper.SetDefault("geo.provider_url", "http://ip-api.com/json")
	viper.SetDefault("geo.timeout_seconds", 3)
	viper.SetDefault("geo.mmdb_path", "")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl_hours", 720)
	viper.SetDefault("cache.redis_addr", "")
	viper.SetDefault("cache.redis_password", "")
	viper.SetDefault("cache.ttl_minutes", 10)
	viper.SetDefault("monitor.interval_minutes", 5)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using default values")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	log.Printf("Configuration loaded: Server Port=%d, DB Name=%s, Analytics Buffer=%d, Workers=%d",
		cfg.Server.Port, cfg.Database.Name, cfg.Analytics.BufferSize, cfg.Analytics.WorkerCount)

	return &cfg, nil
}
