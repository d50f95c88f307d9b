// Package utils provides the logger and HTTP helpers shared by the transports.
package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value style helpers.
type Logger struct {
	*zap.Logger

	// caller skips the wrapper frames when reporting the call site.
	caller *zap.Logger
}

// LoggerOptions configures NewLogger. Zero values select JSON output on
// stderr at info level.
type LoggerOptions struct {
	// Development switches to the coloured console encoder.
	Development bool
	Level       zapcore.Level
	// Format is either "json" or "console".
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
}

// NewLogger builds a logger from opts.
func NewLogger(opts LoggerOptions) (*Logger, error) {
	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	errOutputs := opts.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.MessageKey = "message"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.SecondsDurationEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(opts.Level),
		Development:      opts.Development,
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
		Encoding:         "json",
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
	}
	if opts.Development || strings.EqualFold(opts.Format, "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	z, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return WrapZap(z), nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, caller: z.WithOptions(zap.AddCallerSkip(2))}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return WrapZap(zap.NewNop())
}

// ParseLevel converts a level name to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Zap returns the underlying zap logger for packages that take one directly.
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

func (l *Logger) Debug(msg string, fields ...any) { l.write(zapcore.DebugLevel, msg, nil, fields) }
func (l *Logger) Info(msg string, fields ...any)  { l.write(zapcore.InfoLevel, msg, nil, fields) }
func (l *Logger) Warn(msg string, fields ...any)  { l.write(zapcore.WarnLevel, msg, nil, fields) }

// Error logs msg with err attached under the "error" key.
func (l *Logger) Error(msg string, err error, fields ...any) {
	l.write(zapcore.ErrorLevel, msg, err, fields)
}

// Fatal is like Error and then exits the process.
func (l *Logger) Fatal(msg string, err error, fields ...any) {
	l.write(zapcore.FatalLevel, msg, err, fields)
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields ...any) *Logger {
	return WrapZap(l.Logger.With(toZapFields(fields)...))
}

// Named adds a sub-scope to the logger's name.
func (l *Logger) Named(name string) *Logger {
	return WrapZap(l.Logger.Named(name))
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

func (l *Logger) write(lvl zapcore.Level, msg string, err error, fields []any) {
	ce := l.caller.Check(lvl, msg)
	if ce == nil {
		return
	}
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	ce.Write(zf...)
}

// toZapFields converts alternating key/value pairs to zap fields. A dangling
// key gets a placeholder value.
func toZapFields(fields []any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	if len(fields)%2 != 0 {
		fields = append(fields, "MISSING_VALUE")
	}

	out := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = "INVALID_KEY"
		}
		if err, ok := fields[i+1].(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}
