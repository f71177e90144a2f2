// Package logging builds the zap loggers used by the launcher and the init process.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported encodings.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects the level and encoding of a logger. It is passed to the
// init process so both sides of the launch log the same way.
type Config struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// New returns a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.DisableStacktrace = true
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	switch cfg.Format {
	case "", FormatConsole:
		zcfg.Encoding = FormatConsole
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case FormatJSON:
		zcfg.Encoding = FormatJSON
		zcfg.EncoderConfig.TimeKey = "time"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Setup builds a logger from cfg and installs it as the global zap logger.
// The returned function restores the previous global logger.
func Setup(cfg Config) (func(), error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return zap.ReplaceGlobals(logger), nil
}
