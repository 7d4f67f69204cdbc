package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Service names the binary on every log line.
var Service = "crm-calls"

// New returns the JSON logger used by every binary, writing to stdout.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

// NewWithWriter logs at debug for local and dev, info elsewhere. Values of
// credential-like keys are replaced with "[redacted]".
func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: redact})
	return slog.New(h).With("service", Service, "env", appEnv)
}

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"access_token":  {},
	"refresh_token": {},
	"api_key":       {},
	"password":      {},
	"secret":        {},
	"signature":     {},
	"dsn":           {},
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

// MaskPhone keeps the last four digits of an E.164 number for log lines.
func MaskPhone(e164 string) string {
	if len(e164) <= 4 {
		return strings.Repeat("*", len(e164))
	}
	return strings.Repeat("*", len(e164)-4) + e164[len(e164)-4:]
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Detached returns a context that outlives ctx's cancellation but keeps its
// values, including the request logger.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
