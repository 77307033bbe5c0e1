// Package logger is the process-wide structured logger. It is a thin shim
// over a zap SugaredLogger so call sites do not need a logger injected.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(zap.NewNop().Sugar())
}

// Init builds the production logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info. When development is
// true a human-readable console encoder is used instead of JSON.
func Init(level string, development bool) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	singleton.Store(l.Sugar())
	return nil
}

// Set replaces the logger. Tests use it with zaptest/observer.
func Set(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// Get returns the current logger for injection.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// Sync flushes buffered entries.
func Sync() {
	_ = singleton.Load().Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debugf(msg string, args ...any) { singleton.Load().Debugf(msg, args...) }
func Infof(msg string, args ...any) { singleton.Load().Infof(msg, args...) }
func Warnf(msg string, args ...any) { singleton.Load().Warnf(msg, args...) }
func Errorf(msg string, args ...any) { singleton.Load().Errorf(msg, args...) }
func Fatalf(msg string, args ...any) { singleton.Load().Fatalf(msg, args...) }
func Debugw(msg string, kv ...any) { singleton.Load().Debugw(msg, kv...) }
func Infow(msg string, kv ...any) { singleton.Load().Infow(msg, kv...) }
func Warnw(msg string, kv ...any) { singleton.Load().Warnw(msg, kv...) }
func Errorw(msg string, kv ...any) { singleton.Load().Errorw(msg, kv...) }
