// Package slog provides the process-wide structured logger used by every
// component in this module: a single package-level *zap.SugaredLogger,
// initialized once at process start and retrieved with Get() rather than
// threaded through every constructor.
package slog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

// Init builds the package-level logger according to LOG_LEVEL and
// LOG_FORMAT environment variables. Safe to call multiple times; only the
// first call takes effect.
func Init() {
	once.Do(func() {
		logger = build().Sugar()
	})
}

// Get returns the process-wide logger, initializing it with defaults if
// Init has not yet been called (useful in tests that skip main()).
func Get() *zap.SugaredLogger {
	if logger == nil {
		Init()
	}
	return logger
}

// SetForTest installs a logger for the duration of a test and returns a
// restore function. Tests that want to assert on log output can pass an
// observer-backed core here.
func SetForTest(l *zap.SugaredLogger) func() {
	prev := logger
	logger = l
	return func() { logger = prev }
}

func build() *zap.Logger {
	level := zapcore.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		_ = level.UnmarshalText([]byte(lvl))
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if os.Getenv("LOG_FORMAT") == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a bare production logger; this should not happen
		// for the config values we construct above.
		l = zap.NewExample()
	}
	return l
}
