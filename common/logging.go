package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

const redacted = "[REDACTED]"

// redactor replaces every registered secret. The replacer is rebuilt on
// registration with longer secrets first so a secret containing another
// is never partially revealed.
type redactor struct {
	mu       sync.RWMutex
	secrets  []string
	replacer *strings.Replacer
}

var secrets = &redactor{}

func (r *redactor) add(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.secrets, value) {
		return
	}
	r.secrets = append(r.secrets, value)
	slices.SortFunc(r.secrets, func(a, b string) int { return len(b) - len(a) })
	pairs := make([]string, 0, 2*len(r.secrets))
	for _, s := range r.secrets {
		pairs = append(pairs, s, redacted)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

func (r *redactor) apply(msg string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.replacer == nil {
		return msg
	}
	return r.replacer.Replace(msg)
}

// InitLogging installs the process logger. The operator logs JSON; the
// CLI and the backup Job log text.
func InitLogging(jsonMode bool) {
	opts := &slog.HandlerOptions{Level: resolveLogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if jsonMode {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(&sanitizingHandler{inner: handler}))
}

// Logr returns a logr.Logger backed by the default slog handler, for
// controller-runtime and client-go components that log through logr.
func Logr() logr.Logger {
	return logr.FromSlogHandler(slog.Default().Handler())
}

func resolveLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(Env("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// RegisterSecret adds a value to be redacted from all log output. Account
// passwords are registered as soon as they are read from their Secret.
func RegisterSecret(value string) {
	if value == "" {
		return
	}
	secrets.add(value)
}

func sanitize(msg string) string {
	return secrets.apply(msg)
}

// sanitizingHandler redacts registered secrets from the message, string
// attributes and error attributes before they reach the inner handler.
type sanitizingHandler struct {
	inner slog.Handler
}

func (h *sanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *sanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *sanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = sanitizeAttr(a)
	}
	return &sanitizingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *sanitizingHandler) WithGroup(name string) slog.Handler {
	return &sanitizingHandler{inner: h.inner.WithGroup(name)}
}

func sanitizeAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(sanitize(v.String()))
	case slog.KindAny:
		// mysqlsh failures carry stderr, which may echo a URI
		if err, ok := v.Any().(error); ok {
			a.Value = slog.StringValue(sanitize(err.Error()))
		}
	case slog.KindGroup:
		group := v.Group()
		clean := make([]slog.Attr, len(group))
		for i, ga := range group {
			clean[i] = sanitizeAttr(ga)
		}
		a.Value = slog.GroupValue(clean...)
	}
	return a
}

// Printf-style helpers for call sites without structured fields.

func DebugLog(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...))
}

func InfoLog(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func WarnLog(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...))
}

func ErrorLog(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}
