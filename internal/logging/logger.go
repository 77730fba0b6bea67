// Package logging provides structured logging with trace-id propagation,
// adapted from r3e-network-service_layer's infrastructure/logging package onto logrus.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey namespaces values Quern stores on context.Context.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	DeviceIDKey ContextKey = "device_id"
)

// Logger wraps *logrus.Logger with Quern-specific helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for the given service name, level ("debug".."fatal")
// and format ("json" or "text"). Daemonized runs use json; --foreground
// runs default to text for a human terminal.
func New(service, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	return &Logger{Logger: l, service: service}
}

// SetOutput redirects log output, used by the daemon to point at the
// rotated log file when it runs without --foreground.
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID attaches a trace id to ctx, generating one if absent.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id from ctx, if any.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext returns an entry pre-populated with the trace id and service
// name carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("service", l.service)
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if deviceID, ok := ctx.Value(DeviceIDKey).(string); ok && deviceID != "" {
		entry = entry.WithField("device_id", deviceID)
	}
	return entry
}

// WithError is a convenience wrapper for logrus's WithError on the base logger.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, dur time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": dur.Milliseconds(),
	}).Info("http_request")
}

// NewFromEnv builds a Logger reading level/format from the environment,
// falling back to info/text — used by package-level default loggers the
// way r3e-network-service_layer's httputil package keeps one for emergency logging.
func NewFromEnv(service string) *Logger {
	level := os.Getenv("QUERN_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("QUERN_LOG_FORMAT")
	return New(service, level, format)
}
