// Package logger provides structured logging for the realtime service.
//
// Uses zap with AtomicLevel so the level can be changed at runtime through
// the /log/level endpoint. JSON format for production, console for development.
//
// Import Path: bazaar.dev/realtime/internal/pkg/logger
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
)

// Init initializes the global logger.
// level: debug, info, warn, error
// format: json or console
// Extra fields (service name, instance id) are attached to every entry.
func Init(level, format string, fields ...zap.Field) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		var cfg zap.Config
		switch format {
		case "console":
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		default:
			cfg = zap.NewProductionConfig()
		}
		cfg.Level = atomicLevel

		logger, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(fields...))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		global = logger
	})
	return initErr
}

// SetLevel dynamically changes the log level.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger. Before Init it returns a no-op logger so that
// library packages can log from tests without bootstrapping.
func L() *zap.Logger {
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Debug logs a message at DebugLevel.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs a message at InfoLevel.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// LevelHandler exposes the AtomicLevel, which implements http.Handler:
//
//	GET  /log/level                        → returns current level
//	PUT  /log/level -d '{"level":"debug"}' → changes level
func LevelHandler() *zap.AtomicLevel {
	return &atomicLevel
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
