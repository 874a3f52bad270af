package pricefeed

import (
	"context"

	"deux_backend/internal/modules/config"
	healthsvc "deux_backend/internal/modules/health/service"
	"deux_backend/internal/modules/pricefeed/service"
	"deux_backend/internal/modules/pricefeed/service/pg"
	"deux_backend/pkg/logger"

	"go.uber.org/fx"
)

func NewFeed(cfg *config.Config, store *pg.TradeStore, state *healthsvc.State) *service.Feed {
	return service.NewFeed(cfg.PriceFeed.URL, cfg.PriceFeed.Symbols, store, state, cfg.PriceFeed.FlushInterval)
}

// run поднимает ленту только при pricefeed.enabled.
func run(lc fx.Lifecycle, cfg *config.Config, feed *service.Feed) {
	if !cfg.PriceFeed.Enabled {
		logger.Info("[FEED] disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				feed.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("pricefeed",
		fx.Provide(pg.NewTradeStore, NewFeed),
		fx.Invoke(run),
	)
}
