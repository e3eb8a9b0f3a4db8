package observability

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Info(args ...interface{})
	Error(args ...interface{})
	Debug(args ...interface{})
	Warn(args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

type LoggerOption func(*logrus.Logger)

// WithLevel sets the minimum level; unknown names keep the default (info).
func WithLevel(level string) LoggerOption {
	return func(l *logrus.Logger) {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			l.SetLevel(lvl)
		}
	}
}

// WithFile writes logs to a size-rotated file in addition to stdout.
func WithFile(path string) LoggerOption {
	return func(l *logrus.Logger) {
		if path == "" {
			return
		}
		l.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 5,
			LocalTime:  true,
		}))
	}
}

func WithOutput(w io.Writer) LoggerOption {
	return func(l *logrus.Logger) {
		l.SetOutput(w)
	}
}

func NewLogger(opts ...LoggerOption) Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	for _, opt := range opts {
		opt(log)
	}
	return &logrusLogger{logger: log, entry: logrus.NewEntry(log)}
}

// NopLogger discards everything.
func NopLogger() Logger {
	return NewLogger(WithOutput(io.Discard))
}

func (l *logrusLogger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

func (l *logrusLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *logrusLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

func (l *logrusLogger) Warn(args ...interface{}) {
	l.entry.Warn(args...)
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{logger: l.logger, entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{logger: l.logger, entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{logger: l.logger, entry: l.entry.WithError(err)}
}

type loggerKey struct{}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFrom returns the request-scoped logger, or fallback when none is set.
func LoggerFrom(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return fallback
}
