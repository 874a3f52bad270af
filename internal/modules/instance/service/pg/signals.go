package pg

import (
	"context"
	"fmt"
	"time"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
)

// SignalStore: журнал входящих сигналов для проверки условий.
type SignalStore struct {
	tx db.TxManager
}

func NewSignalStore(tx db.TxManager) *SignalStore {
	return &SignalStore{tx: tx}
}

const insertSignal = `
INSERT INTO signals (instance_id, symbol, side, indicator_id, key_suffix, trace_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
RETURNING id, created_at`

func (s *SignalStore) Insert(ctx context.Context, row models.SignalRow, keySuffix, traceID string) (out models.SignalRow, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SignalStore.Insert: %w", err)
		}
	}()

	out = row
	err = s.tx.Conn().QueryRow(ctx, insertSignal,
		row.InstanceID, row.Symbol, string(row.Side), row.IndicatorID, keySuffix, traceID,
	).Scan(&out.ID, &out.CreatedAt)
	return out, err
}

const selectUnconsumed = `
SELECT id, instance_id, symbol, side, indicator_id, created_at
FROM signals
WHERE instance_id = $1 AND symbol = $2 AND side = $3 AND created_at >= $4 AND task_ref IS NULL
ORDER BY id`

// Unconsumed: ещё не использованные сигналы линии с момента запуска инстанса.
func (s *SignalStore) Unconsumed(ctx context.Context, instanceID int64, symbol string, side models.Side, since time.Time) (out []models.SignalRow, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SignalStore.Unconsumed: %w", err)
		}
	}()

	rows, err := s.tx.Conn().Query(ctx, selectUnconsumed, instanceID, symbol, string(side), since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SignalRow, error) {
		var (
			r    models.SignalRow
			side string
		)
		err := row.Scan(&r.ID, &r.InstanceID, &r.Symbol, &side, &r.IndicatorID, &r.CreatedAt)
		r.Side = models.Side(side)
		return r, err
	})
}

const tagSignals = `UPDATE signals SET task_ref = $2 WHERE id = ANY($1) AND task_ref IS NULL`

// Tag помечает сигналы, вошедшие в исполнение, ссылкой на задачу. Уже
// помеченные не трогает; возвращает число помеченных сейчас.
func (s *SignalStore) Tag(ctx context.Context, ids []int64, taskRef string) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SignalStore.Tag: %w", err)
		}
	}()

	tag, err := s.tx.Conn().Exec(ctx, tagSignals, ids, taskRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
