// Package obslog wraps zap with the context-free logging conventions used
// across csa: a single *Logger handed down to every component at
// construction time, with .With(...) used to attach component-scoped
// fields rather than threading loggers through context.Context.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger for csa components.
type Logger struct {
	zap *zap.Logger
}

// New builds a Logger writing JSON to stderr at the given level.
// format "console" switches to a human-readable encoder for local runs.
func New(level zapcore.Level, format string) (*Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	return &Logger{zap: zap.New(core)}, nil
}

// Nop returns a Logger that discards everything, for tests and defaults.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// With returns a child Logger carrying the given fields on every call.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child Logger with the given name appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Sync flushes buffered log entries and returns the underlying writer's
// sync error unchanged, including the stderr sync errors some platforms
// report.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Underlying exposes the wrapped *zap.Logger for libraries that need one.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}
