package enricher

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/enricher/service"
	oppg "deux_backend/internal/modules/operation/service/pg"
	feedpg "deux_backend/internal/modules/pricefeed/service/pg"

	"go.uber.org/fx"
)

func NewEnricher(
	cfg *config.Config,
	trades *feedpg.TradeStore,
	operations *oppg.OperationStore,
	publisher brokersvc.Publisher,
) *service.Enricher {
	return service.NewEnricher(trades, operations, publisher, service.Config{
		MaxRetries:    cfg.Enricher.MaxRetries,
		BaseCountdown: cfg.Enricher.BaseCountdown,
		Window:        cfg.Enricher.Window,
	})
}

func register(b *brokersvc.Broker, e *service.Enricher) {
	b.Register(brokersvc.TaskEnrichPrice, brokersvc.QueuePrice, e.Handle)
}

func Module() fx.Option {
	return fx.Module("enricher",
		fx.Provide(NewEnricher),
		fx.Invoke(register),
	)
}
