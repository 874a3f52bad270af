package engine

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/engine/service"
	exsvc "deux_backend/internal/modules/exchange/service"
	ledgersvc "deux_backend/internal/modules/ledger/service"
	notifysvc "deux_backend/internal/modules/notify/service"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewEngine(cfg *config.Config, registry *exsvc.Registry, ledger *ledgersvc.Ledger) *service.Engine {
	return service.NewEngine(registry, ledger, service.Config{
		PlaceOrderRetry:  cfg.Engine.PlaceOrderRetry,
		BalanceRetry:     cfg.Engine.BalanceRetry,
		ResolveFillPrice: cfg.Engine.ResolveFillPrice,
		FillPricePoll:    cfg.Engine.FillPricePoll,
		FillPriceTimeout: cfg.Engine.FillPriceTimeout,
	})
}

func NewWorker(
	cfg *config.Config,
	engine *service.Engine,
	publisher brokersvc.Publisher,
	rec *tracesvc.Recorder,
	notifier notifysvc.Notifier,
) *service.Worker {
	return service.NewWorker(engine, publisher, rec, notifier, cfg.Sharing.Countdown)
}

func register(b *brokersvc.Broker, w *service.Worker) {
	b.Register(brokersvc.TaskExecuteOperation, brokersvc.QueueOps, w.Handle)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(NewEngine, NewWorker),
		fx.Invoke(register),
	)
}
