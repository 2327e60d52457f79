package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t, "APP_ENV", "FLAGCORE_SDK_KEY", "FLAGCORE_MODE", "FLAGCORE_STREAM_URI",
		"FLAGCORE_POLL_URI", "FLAGCORE_POLL_INTERVAL", "FLAGCORE_EVENTS_URI",
		"FLAGCORE_EVENTS_DISABLED", "FLAGCORE_LOG_LEVEL")

	// Streaming is the default mode and requires a stream URI to validate.
	os.Setenv("FLAGCORE_STREAM_URI", "https://example.test/all")
	defer os.Unsetenv("FLAGCORE_STREAM_URI")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("Expected AppEnv='dev', got '%s'", cfg.AppEnv)
	}
	if cfg.Mode != defaultMode {
		t.Errorf("Expected Mode=%q, got %q", defaultMode, cfg.Mode)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("Expected PollInterval=30s, got %s", cfg.PollInterval)
	}
	if cfg.EventsCapacity != 1000 {
		t.Errorf("Expected EventsCapacity=1000, got %d", cfg.EventsCapacity)
	}
	if !cfg.EventsDisabled {
		t.Error("Expected EventsDisabled=true when FLAGCORE_EVENTS_URI is unset")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel='info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Setenv("APP_ENV", "staging")
	os.Setenv("FLAGCORE_SDK_KEY", "test-key")
	os.Setenv("FLAGCORE_MODE", "polling")
	os.Setenv("FLAGCORE_POLL_URI", "https://example.test/all")
	os.Setenv("FLAGCORE_POLL_INTERVAL", "10s")
	os.Setenv("FLAGCORE_EVENTS_URI", "https://example.test/events")

	defer clearEnv(t, "APP_ENV", "FLAGCORE_SDK_KEY", "FLAGCORE_MODE", "FLAGCORE_POLL_URI",
		"FLAGCORE_POLL_INTERVAL", "FLAGCORE_EVENTS_URI")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "staging" {
		t.Errorf("Expected AppEnv='staging', got '%s'", cfg.AppEnv)
	}
	if cfg.SDKKey != "test-key" {
		t.Errorf("Expected SDKKey='test-key', got '%s'", cfg.SDKKey)
	}
	if cfg.Mode != "polling" {
		t.Errorf("Expected Mode='polling', got '%s'", cfg.Mode)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("Expected PollInterval=10s, got %s", cfg.PollInterval)
	}
	if cfg.EventsDisabled {
		t.Error("Expected EventsDisabled=false when FLAGCORE_EVENTS_URI is set")
	}
}

func TestLoad_MissingEnvFileIsAcceptable(t *testing.T) {
	os.Setenv("FLAGCORE_STREAM_URI", "https://example.test/all")
	defer os.Unsetenv("FLAGCORE_STREAM_URI")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not fail when .env is missing: %v", err)
	}
	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
}

func TestLoad_StreamingModeRequiresStreamURI(t *testing.T) {
	clearEnv(t, "FLAGCORE_STREAM_URI", "FLAGCORE_MODE")
	os.Setenv("FLAGCORE_MODE", "streaming")
	defer os.Unsetenv("FLAGCORE_MODE")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when FLAGCORE_MODE=streaming without FLAGCORE_STREAM_URI")
	}
}

func TestLoad_PollingModeRequiresPollURI(t *testing.T) {
	os.Setenv("FLAGCORE_MODE", "polling")
	clearEnv(t, "FLAGCORE_POLL_URI")
	defer os.Unsetenv("FLAGCORE_MODE")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when FLAGCORE_MODE=polling without FLAGCORE_POLL_URI")
	}
}

func TestLoad_OfflineModeNeedsNoURIs(t *testing.T) {
	clearEnv(t, "FLAGCORE_STREAM_URI", "FLAGCORE_POLL_URI")
	os.Setenv("FLAGCORE_MODE", "offline")
	defer os.Unsetenv("FLAGCORE_MODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Mode != "offline" {
		t.Errorf("Expected Mode='offline', got '%s'", cfg.Mode)
	}
}

func TestLoad_UnsupportedModeRejected(t *testing.T) {
	os.Setenv("FLAGCORE_MODE", "carrier-pigeon")
	defer os.Unsetenv("FLAGCORE_MODE")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unsupported FLAGCORE_MODE")
	}
}
