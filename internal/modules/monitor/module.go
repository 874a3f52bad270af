package monitor

import (
	"context"

	"deux_backend/internal/modules/config"
	gatesvc "deux_backend/internal/modules/gate/service"
	"deux_backend/internal/modules/monitor/service"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewCoordinator(lc fx.Lifecycle, cfg *config.Config, gate *gatesvc.Gate, rec *tracesvc.Recorder) *service.Coordinator {
	c := service.NewCoordinator(gate, rec, cfg.Monitor.Period, cfg.Monitor.MaxLifetime)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Stop(ctx)
		},
	})
	return c
}

func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(NewCoordinator),
	)
}
