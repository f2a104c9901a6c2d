// Package logging provides component-scoped structured logging used
// throughout the engine, mirroring the call-site contract every other
// package in this tree depends on (NewComponentLogger, FromContext).
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the minimal surface every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	With(key string, value any) Logger
}

type slogLogger struct {
	component string
	logID     string
	base      *slog.Logger
}

var defaultBase = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// serviceFile is the shared append-only text sink behind every
// component logger, active only when $A2AENGINE_LOG_DIR is set. Lines
// land in service.log in the format FetchRecentLogIndex reads back.
var serviceFile = struct {
	once sync.Once
	mu   sync.Mutex
	f    *os.File
}{}

func serviceSink() *os.File {
	serviceFile.once.Do(func() {
		dir := os.Getenv(logDirEnvVar)
		if dir == "" {
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, serviceLogFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		serviceFile.f = f
	})
	return serviceFile.f
}

// NewComponentLogger returns a Logger tagged with component, used the
// same way across every package ("TaskService", "Narrator", "Handler").
func NewComponentLogger(component string) Logger {
	return &slogLogger{component: component, base: defaultBase}
}

func (l *slogLogger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.base.Log(context.Background(), level, msg, "component", l.component)
	l.appendTextLine(level, msg)
}

// appendTextLine mirrors the record into the on-disk service log when
// the text sink is enabled.
func (l *slogLogger) appendTextLine(level slog.Level, msg string) {
	f := serviceSink()
	if f == nil {
		return
	}
	line := time.Now().Format(textLogTimeLayout) + " [" + level.String() + "] [SERVICE] [" + l.component + "]"
	if l.logID != "" {
		line += " [log_id=" + l.logID + "]"
	}
	line += " " + msg + "\n"
	serviceFile.mu.Lock()
	_, _ = f.WriteString(line)
	serviceFile.mu.Unlock()
}

func (l *slogLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

func (l *slogLogger) With(key string, value any) Logger {
	out := &slogLogger{component: l.component, logID: l.logID, base: l.base.With(key, value)}
	// The "log_id" attribute also correlates text-sink lines, so the
	// index can group a request's records across files.
	if key == "log_id" {
		if id, ok := value.(string); ok {
			out.logID = id
		}
	}
	return out
}

type ctxKey struct{}

// WithContext attaches logger to ctx so downstream calls can recover it
// via FromContext without re-threading it through every function.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or fallback if none
// was attached.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return fallback
}
