package sharing

import (
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/sharing/service"
	"deux_backend/internal/modules/sharing/service/pg"
	tracesvc "deux_backend/internal/modules/trace/service"

	"go.uber.org/fx"
)

func NewSubscriberCache(cfg *config.Config, store *pg.SubscriptionStore) *service.SubscriberCache {
	return service.NewSubscriberCache(store, cfg.Sharing.CacheSize, cfg.Sharing.CacheTTL)
}

func NewSharer(
	cfg *config.Config,
	cache *service.SubscriberCache,
	publisher brokersvc.Publisher,
	rec *tracesvc.Recorder,
) *service.Sharer {
	return service.NewSharer(cache, publisher, rec, cfg.Sharing.Concurrency)
}

func register(b *brokersvc.Broker, s *service.Sharer) {
	b.Register(brokersvc.TaskSharing, brokersvc.QueueSharing, s.Handle)
}

func Module() fx.Option {
	return fx.Module("sharing",
		fx.Provide(pg.NewSubscriptionStore, NewSubscriberCache, NewSharer),
		fx.Invoke(register),
	)
}
