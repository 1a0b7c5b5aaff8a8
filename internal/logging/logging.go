package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLogLevel = "WAVE_LOG_LEVEL"

type Config struct {
	Level string `toml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `toml:"development"`
}

// New builds the process logger. WAVE_LOG_LEVEL, when set to a known level,
// wins over cfg.Level.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if lvl, ok := ParseLevel(cfg.Level); ok {
		level = lvl
	}
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func ParseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off", "disabled", "none":
		// above every level zap emits
		return zapcore.FatalLevel + 1, true
	default:
		return zapcore.InfoLevel, false
	}
}
