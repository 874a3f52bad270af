package gate

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/gate/service"
	instpg "deux_backend/internal/modules/instance/service/pg"
	monitorsvc "deux_backend/internal/modules/monitor/service"
	oppg "deux_backend/internal/modules/operation/service/pg"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewGate(
	instances *instpg.InstanceStore,
	signals *instpg.SignalStore,
	operations *oppg.OperationStore,
	publisher brokersvc.Publisher,
) *service.Gate {
	return service.NewGate(instances, signals, operations, publisher)
}

func NewWorker(g *service.Gate, rec *tracesvc.Recorder, coord *monitorsvc.Coordinator) *service.Worker {
	return service.NewWorker(g, rec, coord)
}

func register(b *brokersvc.Broker, w *service.Worker) {
	b.Register(brokersvc.TaskWebhookProcessor, brokersvc.QueueLogic, w.Handle)
}

func Module() fx.Option {
	return fx.Module("gate",
		fx.Provide(NewGate, NewWorker),
		fx.Invoke(register),
	)
}
