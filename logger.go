package accounts

import (
	"context"
	"log/slog"
	"os"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package. Any glog logger
// can be passed where a Logger is expected.
type Logger = glog.Logger

// LoggerProvider hands out named loggers. *glog.BaseLogger is one.
type LoggerProvider = glog.LoggerProvider

const (
	LevelTrace = glog.LevelTrace
	LevelFatal = glog.LevelFatal
)

// ResolveLogger picks an explicit logger first, then one from the provider,
// then the default slog logger scoped to name.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	if logger != nil {
		return logger
	}
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
	}
	return defaultLogger().named(name)
}

// NewSlogLogger adapts a *slog.Logger. Error values passed as arguments are
// expanded with their go-errors attributes.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{base: l, ctx: context.Background()}
}

// NewSlogProvider returns a LoggerProvider that tags each logger with its name.
func NewSlogProvider(l *slog.Logger) LoggerProvider {
	if l == nil {
		l = slog.Default()
	}
	return slogProvider{base: l}
}

type slogProvider struct {
	base *slog.Logger
}

func (p slogProvider) GetLogger(name string) Logger {
	return (&slogLogger{base: p.base, ctx: context.Background()}).named(name)
}

type slogLogger struct {
	base *slog.Logger
	ctx  context.Context
}

func defaultLogger() *slogLogger {
	return &slogLogger{base: slog.Default(), ctx: context.Background()}
}

func (l *slogLogger) named(name string) *slogLogger {
	if name == "" {
		return l
	}
	return &slogLogger{base: l.base.With(slog.String("logger", name)), ctx: l.ctx}
}

func (l *slogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{base: l.base, ctx: ctx}
}

func (l *slogLogger) log(level slog.Level, msg string, args ...any) {
	if !l.base.Enabled(l.ctx, level) {
		return
	}
	l.base.Log(l.ctx, level, msg, expandErrorArgs(args)...)
}

// expandErrorArgs turns key/error pairs into a group holding the message and
// the rich error attributes.
func expandErrorArgs(args []any) []any {
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			out = append(out, args[i])
			continue
		}
		err, isErr := args[i+1].(error)
		if !isErr || err == nil {
			out = append(out, key, args[i+1])
			i++
			continue
		}
		group := []any{slog.String("message", err.Error())}
		for _, attr := range goerrors.ToSlogAttributes(err) {
			group = append(group, attr)
		}
		out = append(out, slog.Group(key, group...))
		i++
	}
	return out
}
