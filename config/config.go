package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds everything the service needs at startup. Values come from the
// environment, optionally overridden by a YAML file named by CONFIG_FILE.
type Config struct {
	Port string

	// Polygon.io market data settings
	PolygonAPIKey string

	// Gemini risk-insight settings
	GeminiAPIKey string

	// Storage settings
	DBPath string

	// Polling cadence for the active ticker
	PollInterval time.Duration

	// Default session inputs
	DefaultTicker         string
	DefaultTargetAPY      float64
	DefaultTargetDiscount float64
}

// YAMLConfig mirrors the optional config file layout.
type YAMLConfig struct {
	Port          string `yaml:"port"`
	PolygonAPIKey string `yaml:"polygon_api_key"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	DBPath        string `yaml:"db_path"`

	Trading struct {
		DefaultTicker         string  `yaml:"default_ticker"`
		DefaultTargetAPY      float64 `yaml:"default_target_apy"`
		DefaultTargetDiscount float64 `yaml:"default_target_discount"`
		PollIntervalSeconds   int     `yaml:"poll_interval_seconds"`
	} `yaml:"trading"`
}

// Load builds the configuration from environment variables, then applies the
// YAML file on top when one is configured and readable.
func Load() *Config {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		PolygonAPIKey:         getEnv("POLYGON_API_KEY", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		DBPath:                getEnv("DB_PATH", "data/csp-validator.db"),
		PollInterval:          time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
		DefaultTicker:         getEnv("DEFAULT_TICKER", "SPY"),
		DefaultTargetAPY:      getEnvFloat("DEFAULT_TARGET_APY", 15),
		DefaultTargetDiscount: getEnvFloat("DEFAULT_TARGET_DISCOUNT", 5),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		cfg.applyYAML(path)
	}

	return cfg
}

func (c *Config) applyYAML(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return
	}

	if yc.Port != "" {
		c.Port = yc.Port
	}
	if yc.PolygonAPIKey != "" {
		c.PolygonAPIKey = yc.PolygonAPIKey
	}
	if yc.GeminiAPIKey != "" {
		c.GeminiAPIKey = yc.GeminiAPIKey
	}
	if yc.DBPath != "" {
		c.DBPath = yc.DBPath
	}
	if yc.Trading.DefaultTicker != "" {
		c.DefaultTicker = yc.Trading.DefaultTicker
	}
	if yc.Trading.DefaultTargetAPY != 0 {
		c.DefaultTargetAPY = yc.Trading.DefaultTargetAPY
	}
	if yc.Trading.DefaultTargetDiscount != 0 {
		c.DefaultTargetDiscount = yc.Trading.DefaultTargetDiscount
	}
	if yc.Trading.PollIntervalSeconds > 0 {
		c.PollInterval = time.Duration(yc.Trading.PollIntervalSeconds) * time.Second
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
