package broker

import (
	"context"

	"deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
)

func NewBroker(lc fx.Lifecycle, cfg *config.Config, tracer opentracing.Tracer) *service.Broker {
	b := service.New(tracer, func(name string) service.QueueConfig {
		q := cfg.Queue(name)
		return service.QueueConfig{Workers: q.Workers, Buffer: q.Buffer}
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			b.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop(ctx)
		},
	})
	return b
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			NewBroker,
			func(b *service.Broker) service.Publisher { return b },
		),
	)
}
