package exchange

import (
	"net/http"

	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/exchange/service"
	"deux_backend/internal/modules/exchange/service/pg"

	"go.uber.org/fx"
)

func NewRegistry(cfg *config.Config, creds service.CredentialStore) (*service.Registry, error) {
	bindings := make([]service.Binding, 0, len(cfg.Exchanges))
	for _, e := range cfg.Exchanges {
		bindings = append(bindings, service.Binding{ID: e.ID, Kind: e.Kind, BaseURL: e.BaseURL})
	}
	hc := &http.Client{Timeout: cfg.Engine.HTTPClientTimeout}
	return service.NewRegistry(bindings, creds, hc)
}

func Module() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			fx.Annotate(pg.NewCredentialStore, fx.As(new(service.CredentialStore))),
			NewRegistry,
		),
	)
}
