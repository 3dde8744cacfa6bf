package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("expected non-empty DataDir")
	}
	if !filepath.IsAbs(cfg.DatabaseDSN) {
		t.Error("expected absolute DatabaseDSN by default")
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("expected default LogFormat %q, got %q", LogFormatText, cfg.LogFormat)
	}
}

func TestDefaultWithXDGDataHome(t *testing.T) {
	original := os.Getenv("XDG_DATA_HOME")
	defer os.Setenv("XDG_DATA_HOME", original)

	tmp := t.TempDir()
	os.Setenv("XDG_DATA_HOME", tmp)

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	want := filepath.Join(tmp, "controlplane")
	if cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		t.Errorf("DataDir %q was not created", cfg.DataDir)
	}
}

func TestApplyEnvOverridesLogFormatAndLevel(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "RQ_DISPATCH_THROTTLE_SECONDS"} {
		original := os.Getenv(k)
		defer os.Setenv(k, original)
	}
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LOG_FORMAT", "json")
	os.Setenv("RQ_DISPATCH_THROTTLE_SECONDS", "5")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.RQDispatchThrottleSeconds.Seconds() != 5 {
		t.Errorf("RQDispatchThrottleSeconds = %v, want 5s", cfg.RQDispatchThrottleSeconds)
	}
}
