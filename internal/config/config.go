package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar session service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	EngineMode     string
	EngineAPIURL   string
	EngineAPIKey   string
	EngineAvatarID string
	EngineVoiceID  string
	EngineLanguage string

	ArbiterWebhookURL string

	TimerDirection string
	TimerFloor     int

	HandheldEchoSuppression bool

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "entrenador"),
		AllowAnyOrigin:   false,
		EngineMode:       envOrDefault("ENGINE_MODE", "auto"),
		EngineAPIURL:     envOrDefault("ENGINE_API_URL", "https://api.liveavatar.example.com"),
		EngineAPIKey:     envTrimmed("ENGINE_API_KEY"),
		EngineAvatarID:   envTrimmed("ENGINE_AVATAR_ID"),
		EngineVoiceID:    envTrimmed("ENGINE_VOICE_ID"),
		EngineLanguage:   envOrDefault("ENGINE_LANGUAGE", "es"),
		// The arbiter decides, per user turn, whether the exercise is over.
		ArbiterWebhookURL: envTrimmed("ARBITER_WEBHOOK_URL"),
		// Canonical timer policy counts up from the start offset, unbounded.
		TimerDirection:           envOrDefault("TIMER_DIRECTION", "up"),
		TimerFloor:               0,
		HandheldEchoSuppression:  true,
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.HandheldEchoSuppression, err = boolFromEnv("HANDHELD_ECHO_SUPPRESSION", cfg.HandheldEchoSuppression)
	if err != nil {
		return Config{}, err
	}
	cfg.TimerFloor, err = intFromEnv("TIMER_FLOOR", cfg.TimerFloor)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.TimerDirection)) {
	case "up", "down":
		cfg.TimerDirection = strings.ToLower(strings.TrimSpace(cfg.TimerDirection))
	default:
		return Config{}, fmt.Errorf("TIMER_DIRECTION must be up or down")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EngineMode)) {
	case "auto", "remote", "mock":
		cfg.EngineMode = strings.ToLower(strings.TrimSpace(cfg.EngineMode))
	default:
		return Config{}, fmt.Errorf("invalid ENGINE_MODE: %q (expected auto|remote|mock)", cfg.EngineMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
