// Package config provides application configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings a host process needs to construct a
// flagcore.Client, loaded from environment variables or a .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv string // Deployment environment (dev, staging, prod) - drives the warnings below, nothing else

	SDKKey string // Sent as the Authorization header to the data source and events endpoints

	Mode         string // streaming, polling, or offline
	StreamURI    string // SSE endpoint consulted in streaming mode
	PollURI      string // Snapshot endpoint consulted in polling mode
	PollInterval time.Duration

	EventsURI           string // Base URL analytics events are POSTed to; empty disables events
	EventsDisabled      bool
	EventsCapacity      int
	EventsFlushInterval time.Duration
	ContextKeysCapacity int

	BigSegmentsCacheTTL   time.Duration
	BigSegmentsStaleAfter time.Duration

	OutageLogAfter time.Duration
	LogLevel       string // zerolog level name: debug, info, warn, error
}

const (
	defaultMode = "streaming"
)

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
// Returns a Config struct with all values populated (either from env or defaults).
//
// Validation:
//
//	This function runs Validate() on the loaded values and returns its
//	error; Validate() is also exported so callers that build or modify
//	a Config by hand can reuse the same checks.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	_ = v.ReadInConfig()    // Ignore error - .env is optional
	bindEnvAliases(v)
	v.AutomaticEnv() // Read from environment variables

	setConfigDefaults(v)
	appEnv := strings.TrimSpace(v.GetString("APP_ENV"))

	cfg := &Config{
		AppEnv:                appEnv,
		SDKKey:                strings.TrimSpace(v.GetString("FLAGCORE_SDK_KEY")),
		Mode:                  strings.ToLower(strings.TrimSpace(v.GetString("FLAGCORE_MODE"))),
		StreamURI:             strings.TrimSpace(v.GetString("FLAGCORE_STREAM_URI")),
		PollURI:               strings.TrimSpace(v.GetString("FLAGCORE_POLL_URI")),
		PollInterval:          v.GetDuration("FLAGCORE_POLL_INTERVAL"),
		EventsURI:             strings.TrimSpace(v.GetString("FLAGCORE_EVENTS_URI")),
		EventsDisabled:        v.GetBool("FLAGCORE_EVENTS_DISABLED"),
		EventsCapacity:        v.GetInt("FLAGCORE_EVENTS_CAPACITY"),
		EventsFlushInterval:   v.GetDuration("FLAGCORE_EVENTS_FLUSH_INTERVAL"),
		ContextKeysCapacity:   v.GetInt("FLAGCORE_CONTEXT_KEYS_CAPACITY"),
		BigSegmentsCacheTTL:   v.GetDuration("FLAGCORE_BIG_SEGMENTS_CACHE_TTL"),
		BigSegmentsStaleAfter: v.GetDuration("FLAGCORE_BIG_SEGMENTS_STALE_AFTER"),
		OutageLogAfter:        v.GetDuration("FLAGCORE_OUTAGE_LOG_AFTER"),
		LogLevel:              strings.ToLower(strings.TrimSpace(v.GetString("FLAGCORE_LOG_LEVEL"))),
	}
	if cfg.EventsURI == "" {
		cfg.EventsDisabled = true
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	warnOnUnsafeDefaults(cfg)

	return cfg, nil
}

// setConfigDefaults sets default values for all configuration options.
// These defaults are suitable for local development but should be overridden in production.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("FLAGCORE_MODE", defaultMode)
	v.SetDefault("FLAGCORE_POLL_INTERVAL", 30*time.Second)
	v.SetDefault("FLAGCORE_EVENTS_CAPACITY", 1000)
	v.SetDefault("FLAGCORE_EVENTS_FLUSH_INTERVAL", 5*time.Second)
	v.SetDefault("FLAGCORE_CONTEXT_KEYS_CAPACITY", 1000)
	v.SetDefault("FLAGCORE_BIG_SEGMENTS_CACHE_TTL", 5*time.Second)
	v.SetDefault("FLAGCORE_BIG_SEGMENTS_STALE_AFTER", 2*time.Minute)
	v.SetDefault("FLAGCORE_OUTAGE_LOG_AFTER", time.Minute)
	v.SetDefault("FLAGCORE_LOG_LEVEL", "info")
}

func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("FLAGCORE_STREAM_URI", "FLAGCORE_STREAM_URI", "FLAGCORE_STREAM_URL")
	_ = v.BindEnv("FLAGCORE_POLL_URI", "FLAGCORE_POLL_URI", "FLAGCORE_POLL_URL")
	_ = v.BindEnv("FLAGCORE_EVENTS_URI", "FLAGCORE_EVENTS_URI", "FLAGCORE_EVENTS_URL")
}

// Validate checks production-readiness constraints beyond the bare
// per-field parsing Load already did.
func Validate(cfg *Config) error {
	switch cfg.Mode {
	case "streaming", "polling", "offline":
	default:
		return fmt.Errorf("unsupported FLAGCORE_MODE %q (expected streaming, polling, or offline)", cfg.Mode)
	}
	if cfg.Mode == "streaming" && cfg.StreamURI == "" {
		return fmt.Errorf("FLAGCORE_STREAM_URI must be set when FLAGCORE_MODE=streaming")
	}
	if cfg.Mode == "polling" && cfg.PollURI == "" {
		return fmt.Errorf("FLAGCORE_POLL_URI must be set when FLAGCORE_MODE=polling")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("FLAGCORE_POLL_INTERVAL must be positive")
	}
	return nil
}

func warnOnUnsafeDefaults(cfg *Config) {
	if strings.EqualFold(cfg.AppEnv, "prod") && cfg.SDKKey == "" {
		log.Printf("WARNING: APP_ENV=prod with no FLAGCORE_SDK_KEY set. The data source and events endpoints will be called without an Authorization header.")
	}
	if strings.EqualFold(cfg.AppEnv, "prod") && cfg.Mode == "offline" {
		log.Printf("WARNING: APP_ENV=prod with FLAGCORE_MODE=offline. The client will never receive flag updates from a live source.")
	}
}
