package observability

import (
	"context"
	"fmt"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekmate/portal/config"
)

// Field represents a structured log field.
type Field = zap.Field

// NewLogger builds the process logger. Format "console" gives colored,
// human-readable output for local runs; anything else is JSON.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zcfg zap.Config
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// RequestFields returns the log fields carried by ctx
func RequestFields(ctx context.Context) []Field {
	if id := chimw.GetReqID(ctx); id != "" {
		return []Field{zap.String("request_id", id)}
	}
	return nil
}

// WithRequest returns logger annotated with the request fields of ctx
func WithRequest(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := RequestFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}
