package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the navi task service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	EngineMode    string
	EngineHTTPURL string
	TaskTimeout   time.Duration

	MaxSubscribers  int
	EventHistoryMax int

	DatabaseURL string
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings so the
// file can use the same "15s"/"2m" syntax as the environment variables.
type fileConfig struct {
	BindAddr                 string `yaml:"bind_addr"`
	ShutdownTimeout          string `yaml:"shutdown_timeout"`
	SessionInactivityTimeout string `yaml:"session_inactivity_timeout"`
	MetricsNamespace         string `yaml:"metrics_namespace"`
	AllowAnyOrigin           *bool  `yaml:"allow_any_origin"`
	EngineMode               string `yaml:"engine_mode"`
	EngineHTTPURL            string `yaml:"engine_http_url"`
	TaskTimeout              string `yaml:"task_timeout"`
	MaxSubscribers           *int   `yaml:"max_subscribers"`
	EventHistoryMax          *int   `yaml:"event_history_max"`
	DatabaseURL              string `yaml:"database_url"`
}

// Load reads the optional YAML overlay file and environment variables,
// applying safe defaults. Environment variables win over the file.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 ":8080",
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		MetricsNamespace:         "navi",
		AllowAnyOrigin:           false,
		EngineMode:               "mock",
		TaskTimeout:              20 * time.Minute,
		MaxSubscribers:           100,
		EventHistoryMax:          512,
	}

	if path := stringsTrimSpace("NAVI_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("NAVI_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("NAVI_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.EngineMode = envOrDefault("NAVI_ENGINE_MODE", cfg.EngineMode)
	cfg.EngineHTTPURL = envOrDefault("NAVI_ENGINE_HTTP_URL", cfg.EngineHTTPURL)
	if v := stringsTrimSpace("NAVI_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("NAVI_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("NAVI_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskTimeout, err = durationFromEnv("NAVI_TASK_TIMEOUT", cfg.TaskTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("NAVI_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSubscribers, err = intFromEnv("NAVI_MAX_SUBSCRIBERS", cfg.MaxSubscribers)
	if err != nil {
		return Config{}, err
	}
	cfg.EventHistoryMax, err = intFromEnv("NAVI_EVENT_HISTORY_MAX", cfg.EventHistoryMax)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("NAVI_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TaskTimeout < time.Second {
		return Config{}, fmt.Errorf("NAVI_TASK_TIMEOUT must be at least 1s")
	}
	if cfg.MaxSubscribers <= 0 {
		return Config{}, fmt.Errorf("NAVI_MAX_SUBSCRIBERS must be positive")
	}
	if cfg.EventHistoryMax <= 0 {
		return Config{}, fmt.Errorf("NAVI_EVENT_HISTORY_MAX must be positive")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if v := strings.TrimSpace(fc.BindAddr); v != "" {
		cfg.BindAddr = v
	}
	if v := strings.TrimSpace(fc.MetricsNamespace); v != "" {
		cfg.MetricsNamespace = v
	}
	if v := strings.TrimSpace(fc.EngineMode); v != "" {
		cfg.EngineMode = v
	}
	if v := strings.TrimSpace(fc.EngineHTTPURL); v != "" {
		cfg.EngineHTTPURL = v
	}
	if v := strings.TrimSpace(fc.DatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if fc.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.AllowAnyOrigin
	}
	if fc.MaxSubscribers != nil {
		cfg.MaxSubscribers = *fc.MaxSubscribers
	}
	if fc.EventHistoryMax != nil {
		cfg.EventHistoryMax = *fc.EventHistoryMax
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.ShutdownTimeout, &cfg.ShutdownTimeout, "shutdown_timeout"},
		{fc.SessionInactivityTimeout, &cfg.SessionInactivityTimeout, "session_inactivity_timeout"},
		{fc.TaskTimeout, &cfg.TaskTimeout, "task_timeout"},
	} {
		raw := strings.TrimSpace(d.raw)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s parse error: %w", path, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := strings.ToLower(stringsTrimSpace(key))
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
