package trace

import (
	"deux_backend/internal/modules/trace/service"
	"deux_backend/internal/modules/trace/service/pg"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("trace",
		fx.Provide(
			fx.Annotate(pg.NewTraceStore, fx.As(new(service.Store))),
			service.NewRecorder,
		),
	)
}
