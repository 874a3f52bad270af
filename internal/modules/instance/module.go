package instance

import (
	"deux_backend/internal/modules/instance/service/pg"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("instance",
		fx.Provide(
			pg.NewInstanceStore,
			pg.NewSignalStore,
		),
	)
}
