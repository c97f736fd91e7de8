// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the agent core.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" or "text". JSON for production, text for development.
	Format string `yaml:"format"`

	// Output is the log writer (defaults to os.Stderr).
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are extra regexes for sensitive data redaction, on
	// top of the built-in key/token patterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ContextKey is the type for logging context keys.
type ContextKey string

const (
	// RequestIDKey correlates log lines with one RPC round trip.
	RequestIDKey ContextKey = "request_id"

	// ConversationIDKey correlates log lines with a conversation.
	ConversationIDKey ContextKey = "conversation_id"

	// QueryIDKey correlates log lines with one submitted query.
	QueryIDKey ContextKey = "query_id"
)

// defaultRedactPatterns cover credentials that must never reach logs.
var defaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// redactHandler wraps a slog.Handler, scrubbing secrets from the message
// and string attribute values and attaching correlation IDs from context.
type redactHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(attr))
		return true
	})

	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		clean.AddAttrs(slog.String(string(RequestIDKey), id))
	}
	if id, ok := ctx.Value(ConversationIDKey).(int64); ok {
		clean.AddAttrs(slog.Int64(string(ConversationIDKey), id))
	}
	if id, ok := ctx.Value(QueryIDKey).(string); ok && id != "" {
		clean.AddAttrs(slog.String(string(QueryIDKey), id))
	}
	return h.inner.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.redactAttr(attr)
	}
	return &redactHandler{inner: h.inner.WithAttrs(clean), redacts: h.redacts}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *redactHandler) redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(attr.Value.String()))
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			return slog.String(attr.Key, h.redact(err.Error()))
		}
	}
	return attr
}

func (h *redactHandler) redact(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// NewLogger builds the application logger. Invalid or empty level falls
// back to info; empty format falls back to json.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(defaultRedactPatterns, config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&redactHandler{inner: handler, redacts: redacts})
}

// LogLevelFromString converts a level name to slog.Level, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID attaches an RPC correlation ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithConversationID attaches a conversation ID to the context.
func WithConversationID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// WithQueryID attaches a query ID to the context.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, QueryIDKey, id)
}
