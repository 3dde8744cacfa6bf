// Package logging builds the process-wide structured logger. The teacher
// logs with plain log.Printf and has no json/text format switch; zerolog is
// adopted from erauner12-toolbridge-api (the pack's other Go service),
// which uses it directly for every HTTP/RPC call, to satisfy the
// log_format/log_use_utc configuration knobs.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentboard/controlplane/internal/config"
)

// New builds a zerolog.Logger configured per cfg.LogLevel/LogFormat/LogUseUTC.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.LogUseUTC {
		zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	} else {
		zerolog.TimestampFunc = time.Now
	}

	var logger zerolog.Logger
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		logger = zerolog.New(os.Stdout)
	default:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().Timestamp().Logger()
}
