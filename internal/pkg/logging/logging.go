package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the zap configuration shared by the graindb binaries and tests:
// production JSON output with ISO-8601 timestamps, capitalised severities and
// sampling disabled so debug traces from the storage engine arrive complete.
func Config(level zapcore.Level) zap.Config {
	conf := zap.NewProductionConfig()
	conf.Sampling = nil
	conf.Level = zap.NewAtomicLevelAt(level)
	conf.EncoderConfig.TimeKey = "time"
	conf.EncoderConfig.LevelKey = "severity"
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	conf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return conf
}

// Build creates a logger at the given level name; an empty name means info.
func Build(level string) (*zap.Logger, error) {
	parsed := zapcore.InfoLevel
	if level != "" {
		var err error
		parsed, err = ParseLevel(level)
		if err != nil {
			return nil, err
		}
	}
	return Config(parsed).Build()
}

// ParseLevel maps a level name ("debug", "warn", ...) to its zapcore level.
func ParseLevel(l string) (zapcore.Level, error) {
	return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(l)))
}
