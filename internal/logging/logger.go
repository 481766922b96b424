package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

type originKey struct{}

// WithOrigin tags ctx with the peer or file a patch came from.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// FromContext returns base annotated with the origin carried by ctx, if any.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if origin, ok := ctx.Value(originKey{}).(string); ok && origin != "" {
		return base.With(zap.String("origin", origin))
	}
	return base
}

// Sampled caps repeated entries: per tick, the first entries with the same
// message are logged and then only every thereafter-th one.
func Sampled(logger *zap.Logger, tick time.Duration, first, thereafter int) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, tick, first, thereafter)
	}))
}
