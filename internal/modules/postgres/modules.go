package postgres

import (
	"context"
	"fmt"

	"deux_backend/internal/modules/config"
	"deux_backend/pkg/db"

	"go.uber.org/fx"
)

// Module отдаёт общий PgTxManager и как конкретный тип, и как db.TxManager.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:             cfg.DB.DSN,
					MaxConns:        cfg.DB.MaxConns,
					MaxConnLifetime: cfg.DB.MaxConnLifetime,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						m.Close()
						return nil
					},
				})
				return m, nil
			},
			func(m *db.PgTxManager) db.TxManager { return m },
		),
	)
}
