package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the integrity API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	AIEndpointURL string
	AIAPIKey      string
	AITimeout     time.Duration
	AIModels      []string

	QueueInterItemDelay time.Duration
	RecoveryWindow      time.Duration
	RecoveryBatch       int

	PlagiarismThreshold     int
	StaticShortCircuitScore int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "LabGuard API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("ai.timeout_ms", 30000)
	v.SetDefault("ai.models", "gpt-4o-mini,gpt-4o,gpt-3.5-turbo")
	v.SetDefault("queue.inter_item_delay_ms", 500)
	v.SetDefault("validation.recovery_window_hours", 24)
	v.SetDefault("validation.recovery_batch", 50)
	v.SetDefault("plagiarism.default_threshold", 70)
	v.SetDefault("static.short_circuit_score", 50)

	timeoutMs := v.GetInt("ai.timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	delayMs := v.GetInt("queue.inter_item_delay_ms")
	if delayMs < 0 {
		delayMs = 500
	}

	windowHours := v.GetInt("validation.recovery_window_hours")
	if windowHours <= 0 {
		windowHours = 24
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  v.GetString("app.env"),
		AppPort:                 v.GetString("app.port"),
		DatabaseURL:             v.GetString("database.url"),
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		JWTSecret:               v.GetString("jwt.secret"),
		AIEndpointURL:           v.GetString("ai.endpoint_url"),
		AIAPIKey:                v.GetString("ai.api_key"),
		AITimeout:               time.Duration(timeoutMs) * time.Millisecond,
		AIModels:                splitModels(v.GetString("ai.models")),
		QueueInterItemDelay:     time.Duration(delayMs) * time.Millisecond,
		RecoveryWindow:          time.Duration(windowHours) * time.Hour,
		RecoveryBatch:           v.GetInt("validation.recovery_batch"),
		PlagiarismThreshold:     v.GetInt("plagiarism.default_threshold"),
		StaticShortCircuitScore: v.GetInt("static.short_circuit_score"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 50
	}

	if cfg.PlagiarismThreshold <= 0 || cfg.PlagiarismThreshold > 100 {
		cfg.PlagiarismThreshold = 70
	}

	if cfg.StaticShortCircuitScore <= 0 || cfg.StaticShortCircuitScore > 100 {
		cfg.StaticShortCircuitScore = 50
	}

	return cfg, nil
}

func splitModels(raw string) []string {
	parts := strings.Split(raw, ",")
	models := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			models = append(models, trimmed)
		}
	}
	return models
}
