// Package config loads the process-wide settings of the control plane,
// following the teacher's Default()/XDG layout convention but extended with
// the environment-overridable settings the control plane needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LogFormat selects the zerolog output encoding.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// Config holds every process-wide setting enumerated in the external
// interfaces section of the specification.
type Config struct {
	BaseURL                  string
	LogLevel                 string
	LogFormat                LogFormat
	LogUseUTC                bool
	LocalAgentWorkspaceRoot  string
	RQDispatchThrottleSeconds time.Duration

	DataDir      string
	DatabaseDSN  string
	RedisAddr    string
	JWTSecret    string
	ListenAddr   string
	TemplatesPath string

	ReconcileInterval   time.Duration
	WebhookRescueWindow time.Duration
	WebhookRatePerSecond float64
	WebhookBurst         int

	MinimumGatewayVersion string
}

// Default builds a Config from defaults, then applies environment overrides.
// DataDir follows XDG_DATA_HOME the way the teacher's internal/config.Default
// does, falling back to ~/.local/share/controlplane.
func Default() (*Config, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		BaseURL:                   "http://localhost:8080",
		LogLevel:                  "info",
		LogFormat:                 LogFormatText,
		LogUseUTC:                 false,
		LocalAgentWorkspaceRoot:   filepath.Join(dataDir, "workspaces"),
		RQDispatchThrottleSeconds: 2 * time.Second,
		DataDir:                   dataDir,
		DatabaseDSN:               filepath.Join(dataDir, "controlplane.db"),
		RedisAddr:                 "localhost:6379",
		JWTSecret:                 "",
		ListenAddr:                ":8080",
		TemplatesPath:             "configs/templates.yaml",
		ReconcileInterval:         5 * time.Minute,
		WebhookRescueWindow:       24 * time.Hour,
		WebhookRatePerSecond:      5,
		WebhookBurst:              10,
		MinimumGatewayVersion:     "2026.1.30",
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch strings.ToLower(v) {
		case "json":
			c.LogFormat = LogFormatJSON
		case "text":
			c.LogFormat = LogFormatText
		}
	}
	if v := os.Getenv("LOG_USE_UTC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogUseUTC = b
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("LOCAL_AGENT_WORKSPACE_ROOT"); v != "" {
		c.LocalAgentWorkspaceRoot = v
	}
	if v := os.Getenv("RQ_DISPATCH_THROTTLE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.RQDispatchThrottleSeconds = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("TEMPLATES_PATH"); v != "" {
		c.TemplatesPath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("WEBHOOK_RATE_PER_SECOND"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.WebhookRatePerSecond = rate
		}
	}
	if v := os.Getenv("WEBHOOK_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil {
			c.WebhookBurst = burst
		}
	}
	if v := os.Getenv("MINIMUM_GATEWAY_VERSION"); v != "" {
		c.MinimumGatewayVersion = v
	}
}

func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "controlplane"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "controlplane"), nil
}
