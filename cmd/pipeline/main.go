package main

import (
	"context"

	"deux_backend/internal/modules/broker"
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/engine"
	"deux_backend/internal/modules/enricher"
	"deux_backend/internal/modules/exchange"
	"deux_backend/internal/modules/gate"
	"deux_backend/internal/modules/health"
	"deux_backend/internal/modules/instance"
	"deux_backend/internal/modules/ledger"
	"deux_backend/internal/modules/monitor"
	"deux_backend/internal/modules/notify"
	"deux_backend/internal/modules/operation"
	"deux_backend/internal/modules/panic_controller"
	"deux_backend/internal/modules/postgres"
	"deux_backend/internal/modules/pricefeed"
	"deux_backend/internal/modules/router"
	"deux_backend/internal/modules/sharing"
	"deux_backend/internal/modules/telemetry"
	"deux_backend/internal/modules/trace"
	"deux_backend/internal/modules/webhook"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		telemetry.Module(),
		postgres.Module(),
		broker.Module(),
		trace.Module(),
		notify.Module(),
		instance.Module(),
		exchange.Module(),
		ledger.Module(),
		operation.Module(),
		pricefeed.Module(),
		enricher.Module(),
		engine.Module(),
		gate.Module(),
		monitor.Module(),
		sharing.Module(),
		panic_controller.Module(),
		router.Module(),
		health.Module(),
		webhook.Module(),
	)
	app.Run()
}
