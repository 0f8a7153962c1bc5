package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a development logger.
func NewLogger() *Logger {
	l, err := NewLoggerForEnv("dev")
	if err != nil {
		return NewNopLogger()
	}
	return l
}

func NewLoggerForEnv(env string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return FromZap(z), nil
}

func NewNopLogger() *Logger {
	return FromZap(zap.NewNop())
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNopLogger()
	}
	return &Logger{sugar: z.Sugar()}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Infof(strings.TrimRight(format, "\n"), args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Errorf(strings.TrimRight(format, "\n"), args...)
}

// Fatalf logs and exits the process.
func (l *Logger) Fatalf(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Fatalf(strings.TrimRight(format, "\n"), args...)
}

func (l *Logger) Infow(msg string, keysAndValues ...any) {
	if l == nil {
		return
	}
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) With(keysAndValues ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.sugar.Sync()
}
