// Package logger builds the structured zap logger used across the poller
// and provides the field helpers and context propagation shared by all
// components.
package logger

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or console.
	Format string
	// Development enables development mode (stack traces on warn, caller info).
	Development bool
}

// DefaultOptions returns production-grade defaults.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "json",
	}
}

// New builds a zap logger from opts. An unknown level falls back to info.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch strings.ToLower(opts.Format) {
	case "console", "text":
		cfg.Encoding = "console"
	default:
		cfg.Encoding = "json"
	}

	if opts.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

type ctxKey struct{}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// GinMiddleware logs one line per HTTP request.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			Latency(time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// Domain-specific field helpers.
func Account(name string) zap.Field     { return zap.String("account", name) }
func StudentID(id string) zap.Field     { return zap.String("student_id", id) }
func Category(name string) zap.Field    { return zap.String("category", name) }
func CycleID(id string) zap.Field       { return zap.String("cycle_id", id) }
func EventType(name string) zap.Field   { return zap.String("event_type", name) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func Operation(name string) zap.Field   { return zap.String("operation", name) }
func Latency(d time.Duration) zap.Field { return zap.Duration("latency", d) }
func TokenPrint(fp string) zap.Field    { return zap.String("token_fp", fp) }
func Err(err error) zap.Field           { return zap.Error(err) }
