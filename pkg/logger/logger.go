// Package logger provides the process-wide structured logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the global logger is constructed.
type Config struct {
	// Level is a zap level name (debug, info, warn, error) or an
	// environment name (development, production) understood by Development.
	Level       string
	ServiceName string
	Development bool
}

var (
	mu      sync.RWMutex
	global  *Logger
	initErr error
)

// Logger wraps a zap.SugaredLogger with the small Info/Warn/Error/Fatal
// surface the saga engine, client, and store packages depend on.
type Logger struct {
	sugar *zap.SugaredLogger
}

// Init builds the global logger. Safe to call once at process start; later
// calls replace the global logger, which is convenient in tests.
func Init(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg == nil {
		cfg = &Config{}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(levelFromConfig(cfg)); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	if cfg.ServiceName != "" {
		zcfg.InitialFields = map[string]interface{}{"service": cfg.ServiceName}
	}

	z, err := zcfg.Build()
	if err != nil {
		initErr = err
		return err
	}

	global = &Logger{sugar: z.Sugar()}
	return nil
}

func levelFromConfig(cfg *Config) string {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
		return cfg.Level
	case "development":
		return "debug"
	default:
		return "info"
	}
}

// Get returns the global logger, constructing a development default if
// Init was never called (keeps library code safe to use from tests).
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		z, _ := zap.NewDevelopment()
		global = &Logger{sugar: z.Sugar()}
	}
	return global
}

// Sync flushes any buffered log entries. Call via defer from main.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		_ = global.sugar.Sync()
	}
}

func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }

// With returns a logger with the given key-value pairs attached to every
// subsequent entry, mirroring zap's structured-context idiom.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(kv...)}
}

// NoOp returns a logger that discards everything, for tests that don't
// care about log output but need a *Logger.
func NoOp() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}
