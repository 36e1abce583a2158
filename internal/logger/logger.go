// Package logger provides zap based named loggers for the signaling server.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	base         *zap.Logger
	namedLoggers = make(map[string]*zap.Logger)
)

func init() {
	base, _ = zap.NewDevelopmentConfig().Build()
}

// Init rebuilds the base logger. Named loggers created earlier are
// re-pointed at the new core.
func Init(level, format string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = lvl

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	base = l
	for name, nl := range namedLoggers {
		*nl = *l.Named(name)
	}
	return nil
}

// SetDefault replaces the base logger, mostly for tests.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	for name, nl := range namedLoggers {
		*nl = *l.Named(name)
	}
}

// Default returns the current base logger.
func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// NewNamed returns the logger for a component, creating it on first use.
func NewNamed(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := namedLoggers[name]; ok {
		return l
	}
	l := base.Named(name)
	namedLoggers[name] = l
	return l
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Default().Sync()
}
