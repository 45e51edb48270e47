// Package logging wraps zap the way the rest of this codebase expects:
// one process-wide logger, JSON in production, colorized console in
// development, and a cheap way to attach per-request fields.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the process-wide logger is built. Field names match
// the environment variables bound in gatewayconfig.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // json or console (default console)
	OutputPath string // stdout, stderr, or a file path (default stdout)
}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init builds the process-wide logger from cfg and installs it as the
// package-level logger returned by Get. Safe to call once at startup;
// later calls replace the global logger.
func Init(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	switch cfg.OutputPath {
	case "", "stdout":
		zcfg.OutputPaths = []string{"stdout"}
	case "stderr":
		zcfg.OutputPaths = []string{"stderr"}
	default:
		zcfg.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	mu.Lock()
	global = logger
	mu.Unlock()
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the process-wide logger, falling back to a bare production
// logger if Init was never called so callers never see a nil logger.
func Get() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	fallback, err := zap.NewProduction()
	if err != nil {
		fallback = zap.NewNop()
	}
	return fallback
}

// ForRequest returns a child logger with the request id attached. The
// request pipeline does not call it or attach a logger to the context.
func ForRequest(requestID string) *zap.Logger {
	return Get().With(zap.String("request_id", requestID))
}

// NewNopForTest is a convenience for tests that don't care about log output.
func NewNopForTest() *zap.Logger {
	return zap.NewNop()
}
