package telemetry

import (
	"context"

	"deux_backend/internal/modules/config"
	"deux_backend/pkg/logger"
	"deux_backend/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewZap собирает логгер под режим из конфига.
func NewZap(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func setup(lc fx.Lifecycle, cfg *config.Config, zl *zap.Logger) (opentracing.Tracer, error) {
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)
	logger.Install(zl, zl)

	tracer, closer, err := tracing.InitTracer(tracing.Config{
		Host:    cfg.Jaeger.Host,
		Port:    cfg.Jaeger.Port,
		Enabled: cfg.Jaeger.Enabled,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			_ = zl.Sync()
			return nil
		},
	})
	return tracer, nil
}

func Module() fx.Option {
	return fx.Module("telemetry",
		fx.Provide(
			NewZap,
			setup,
		),
	)
}
