package panic_controller

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	instpg "deux_backend/internal/modules/instance/service/pg"
	monitorsvc "deux_backend/internal/modules/monitor/service"
	notifysvc "deux_backend/internal/modules/notify/service"
	"deux_backend/internal/modules/panic_controller/service"
	"deux_backend/internal/modules/panic_controller/service/pg"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewController(
	instances *instpg.InstanceStore,
	states *pg.StateStore,
	publisher brokersvc.Publisher,
	coord *monitorsvc.Coordinator,
	notifier notifysvc.Notifier,
	rec *tracesvc.Recorder,
) *service.Controller {
	return service.NewController(instances, states, publisher, coord, notifier, rec)
}

func register(b *brokersvc.Broker, c *service.Controller) {
	b.Register(brokersvc.TaskPanic, brokersvc.QueuePanic, c.Handle)
}

func Module() fx.Option {
	return fx.Module("panic",
		fx.Provide(pg.NewStateStore, NewController),
		fx.Invoke(register),
	)
}
