// Package logging provides the process-wide structured logger.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger *zap.SugaredLogger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = newLogger(LevelInfo)
}

// Level represents a logging level.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel converts a string to a Level.
// Returns LevelInfo if the string is not recognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toZapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(level Level) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(level.toZapLevel())
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Setup replaces the global logger with one logging at the given level.
func Setup(level string) {
	l := newLogger(ParseLevel(level))
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = l
}

// Replace swaps the global logger, e.g. for zaptest loggers in tests.
func Replace(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = l.Sugar()
}

// L returns the global logger.
func L() *zap.SugaredLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(component string) *zap.SugaredLogger {
	return L().With("component", component)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}
