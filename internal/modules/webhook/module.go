package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"
	healthsvc "deux_backend/internal/modules/health/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/internal/modules/webhook/service"
	"deux_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func NewHandler(rec *tracesvc.Recorder, publisher brokersvc.Publisher, state *healthsvc.State) *service.Handler {
	return service.NewHandler(rec, publisher, state)
}

func NewEngine(cfg *config.Config, h *service.Handler) *gin.Engine {
	return service.NewEngine(service.Config{
		Path:      cfg.Webhook.Path,
		RateLimit: cfg.Webhook.RateLimit,
		Burst:     cfg.Webhook.Burst,
		Timeout:   cfg.Webhook.Timeout,
	}, h)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.Service.WebhookAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("[WEBHOOK] listening on %s%s", srv.Addr, cfg.Webhook.Path)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("[WEBHOOK] serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(NewHandler, NewEngine),
		fx.Invoke(RunHTTP),
	)
}
