package logging

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// ParseLevel maps a config string to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Init initializes the structured logger
func Init(levelName string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = level

	// Console output is easier to read while running locally
	if os.Getenv("CHAOS_ENV") == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	l, err := config.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLevel changes the level of the logger built by Init without rebuilding it.
func SetLevel(levelName string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// SetLogger replaces the global logger. Tests use it with an observer core.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// TraceID returns the trace id of the span carried by ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if traceID := TraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return fields
}

// LogHTTPRequest logs HTTP request with structured fields
func LogHTTPRequest(ctx context.Context, method, path string, status int, latency time.Duration, size int64) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Int64("size_bytes", size),
	}
	GetLogger().Info("http_request", withTrace(ctx, fields)...)
}

// LogChaosInjected logs a request answered by chaos instead of its route.
func LogChaosInjected(ctx context.Context, mode, path string, delay time.Duration) {
	fields := []zap.Field{
		zap.String("mode", mode),
		zap.String("path", path),
	}
	if delay > 0 {
		fields = append(fields, zap.Duration("delay", delay))
	}
	GetLogger().Info("chaos_injected", withTrace(ctx, fields)...)
}

// LogDelayedResponseDropped logs a delayed response abandoned because its
// request ended first.
func LogDelayedResponseDropped(ctx context.Context, id uint64, path string, err error) {
	fields := []zap.Field{
		zap.Uint64("task_id", id),
		zap.String("path", path),
		zap.Error(err),
	}
	GetLogger().Info("chaos_delayed_response_dropped", withTrace(ctx, fields)...)
}

// LogChaosStarted logs a mode change requested through /chaos/start
func LogChaosStarted(ctx context.Context, from, to string) {
	GetLogger().Warn("chaos_started", withTrace(ctx, []zap.Field{
		zap.String("from", from),
		zap.String("mode", to),
	})...)
}

// LogChaosStopped logs a reset through /chaos/stop
func LogChaosStopped(ctx context.Context, from string) {
	GetLogger().Warn("chaos_stopped", withTrace(ctx, []zap.Field{
		zap.String("from", from),
	})...)
}

// LogChaosStartRejected logs a start request with an unusable mode.
func LogChaosStartRejected(ctx context.Context, raw string) {
	GetLogger().Info("chaos_start_rejected", withTrace(ctx, []zap.Field{
		zap.String("mode", raw),
	})...)
}

// LogVersionServed logs a normal /version answer
func LogVersionServed(ctx context.Context, pool, release string) {
	GetLogger().Info("version_served", withTrace(ctx, []zap.Field{
		zap.String("pool", pool),
		zap.String("release", release),
	})...)
}

// LogHTTPServerStart logs HTTP server startup
func LogHTTPServerStart(addr, pool, release string) {
	GetLogger().Info("http_server_start",
		zap.String("listen_addr", addr),
		zap.String("pool", pool),
		zap.String("release", release),
	)
}

// LogInfo logs general info messages with structured fields
func LogInfo(message string, fields map[string]interface{}) {
	GetLogger().Info(message, mapFields(fields)...)
}

// LogError logs error messages with structured fields
func LogError(message string, fields map[string]interface{}) {
	GetLogger().Error(message, mapFields(fields)...)
}

func mapFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			zapFields = append(zapFields, zap.String(k, val))
		case int:
			zapFields = append(zapFields, zap.Int(k, val))
		case bool:
			zapFields = append(zapFields, zap.Bool(k, val))
		case float64:
			zapFields = append(zapFields, zap.Float64(k, val))
		case time.Duration:
			zapFields = append(zapFields, zap.Duration(k, val))
		case error:
			zapFields = append(zapFields, zap.NamedError(k, val))
		default:
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}
