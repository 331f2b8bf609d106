// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavour.
type Options struct {
	// Level is a zap level name such as "debug" or "INFO".
	Level string
	// Format is "json" or "console".
	Format      string
	Development bool
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	switch strings.ToLower(opts.Format) {
	case "", "json":
		if opts.Development {
			cfg.Encoding = "console"
		} else {
			cfg.Encoding = "json"
		}
	case "console", "text":
		cfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
