package router

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	instpg "deux_backend/internal/modules/instance/service/pg"
	"deux_backend/internal/modules/router/service"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewRouter(keys *instpg.InstanceStore, publisher brokersvc.Publisher, rec *tracesvc.Recorder) *service.Router {
	return service.NewRouter(keys, publisher, rec)
}

func register(b *brokersvc.Broker, r *service.Router) {
	b.Register(brokersvc.TaskWebhookReceipt, brokersvc.QueueWebhook, r.Handle)
}

func Module() fx.Option {
	return fx.Module("router",
		fx.Provide(NewRouter),
		fx.Invoke(register),
	)
}
