package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type TradeStore struct {
	tx db.TxManager
}

func NewTradeStore(tx db.TxManager) *TradeStore {
	return &TradeStore{tx: tx}
}

const insertTrade = `
INSERT INTO market_trades (trade_id, symbol, price, qty, side, traded_at)
VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
ON CONFLICT (symbol, trade_id) DO NOTHING`

// InsertTrades пишет пачку одним batch, дубли молча пропускаются.
func (s *TradeStore) InsertTrades(ctx context.Context, trades []models.MarketTrade) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TradeStore.InsertTrades: %w", err)
		}
	}()
	if len(trades) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTrade, t.TradeID, t.Symbol, t.Price.String(), t.Qty.String(), string(t.Side), t.TradedAt)
	}

	err = s.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		br := tx.SendBatch(ctxTx, batch)
		defer func() {
			_ = br.Close()
		}()
		for range trades {
			tag, err := br.Exec()
			if err != nil {
				return err
			}
			n += tag.RowsAffected()
		}
		return nil
	})
	return n, err
}

const selectPriceAt = `
SELECT price::text
FROM market_trades
WHERE symbol = $1
  AND traded_at BETWEEN $2::timestamptz - make_interval(secs => $3::double precision) AND $2::timestamptz
ORDER BY traded_at DESC, trade_id DESC
LIMIT 1`

// PriceAt: цена последней сделки в окне [at-window, at].
func (s *TradeStore) PriceAt(ctx context.Context, symbol string, at time.Time, window time.Duration) (price decimal.Decimal, found bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TradeStore.PriceAt: %w", err)
		}
	}()

	var raw string
	err = s.tx.Conn().QueryRow(ctx, selectPriceAt, symbol, at, window.Seconds()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err = decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}
