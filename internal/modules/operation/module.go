package operation

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	ledgersvc "deux_backend/internal/modules/ledger/service"
	"deux_backend/internal/modules/operation/service"
	"deux_backend/internal/modules/operation/service/pg"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewPersister(
	store *pg.OperationStore,
	ledger *ledgersvc.Ledger,
	publisher brokersvc.Publisher,
	rec *tracesvc.Recorder,
) *service.Persister {
	return service.NewPersister(store, ledger, publisher, rec)
}

func register(b *brokersvc.Broker, p *service.Persister) {
	b.Register(brokersvc.TaskSaveOperation, brokersvc.QueuePersist, p.Handle)
}

func Module() fx.Option {
	return fx.Module("operation",
		fx.Provide(pg.NewOperationStore, NewPersister),
		fx.Invoke(register),
	)
}
