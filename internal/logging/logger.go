// Package logging wraps zap with the context enrichment every actor uses:
// correlation id, user id, and room code travel on the context.Context a
// command was dispatched with and are appended to every log line.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	UserIDKey        contextKey = "user_id"
	RoomIDKey        contextKey = "room_id"
)

// contextFields maps each context key to the field name it logs under.
var contextFields = []struct {
	key   contextKey
	field string
}{
	{CorrelationIDKey, "correlation_id"},
	{UserIDKey, "user_id"},
	{RoomIDKey, "room_id"},
}

// Initialize builds the process-wide logger once. development selects the
// colored console encoder; level is the LOG_LEVEL config value and falls
// back to info when it doesn't parse.
func Initialize(development bool, level string) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		if parsed, perr := zapcore.ParseLevel(strings.ToLower(level)); perr == nil {
			config.Level = zap.NewAtomicLevelAt(parsed)
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger, or a development fallback when a
// test (or very early startup code) logs before Initialize has run.
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	for _, cf := range contextFields {
		if v, ok := ctx.Value(cf.key).(string); ok {
			fields = append(fields, zap.String(cf.field, v))
		}
	}
	return append(fields, zap.String("service", "dice-arena"))
}

// WithCorrelationID returns a child context carrying the given correlation
// id, the form the edge router hands to actor dispatch.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// RedactEmail masks the local part of an email address for log output.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return "***" + email[at:]
	}
	return "***"
}
