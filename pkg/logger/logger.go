package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level ("debug", "info", "warn", "error").
// Unknown levels fall back to info. Format is "json" or "console".
func New(level, format string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// NewNop returns a logger that discards everything. Used by tests and as a
// default when a component is constructed without an explicit logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// ForSession returns a sugared logger annotated with the session identity
// fields every controller log line should carry.
func ForSession(log *zap.Logger, streamID, identity, role string) *zap.SugaredLogger {
	return log.With(
		zap.String("stream_id", streamID),
		zap.String("identity", identity),
		zap.String("role", role),
	).Sugar()
}
