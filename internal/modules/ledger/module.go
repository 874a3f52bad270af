package ledger

import (
	"deux_backend/internal/modules/ledger/service"
	"deux_backend/internal/modules/ledger/service/pg"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(
			fx.Annotate(pg.NewPositionStore, fx.As(new(service.Store))),
			service.NewLedger,
		),
	)
}
