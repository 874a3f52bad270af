package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// InstanceStore: инстансы, ключи вебхуков и стратегии.
type InstanceStore struct {
	tx  db.TxManager
	now func() time.Time
}

func NewInstanceStore(tx db.TxManager) *InstanceStore {
	return &InstanceStore{tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

const selectInstanceKey = `
SELECT i.user_id, k.instance_id, k.symbol, k.indicator_id, k.delay_seconds
FROM webhook_keys k
JOIN instances i ON i.id = k.instance_id
WHERE k.key = $1`

func (s *InstanceStore) InstanceKey(ctx context.Context, key string) (a models.KeyAuth, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.InstanceKey: %w", err)
		}
	}()

	err = s.tx.Conn().QueryRow(ctx, selectInstanceKey, key).
		Scan(&a.UserID, &a.InstanceID, &a.Symbol, &a.IndicatorID, &a.DelaySeconds)
	return a, notFound(err)
}

const selectUserKey = `SELECT user_id FROM user_webhook_keys WHERE key = $1`

func (s *InstanceStore) UserKey(ctx context.Context, key string) (userID int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.UserKey: %w", err)
		}
	}()

	err = s.tx.Conn().QueryRow(ctx, selectUserKey, key).Scan(&userID)
	return userID, notFound(err)
}

const instanceColumns = `id, user_id, name, api_key_id, exchange_id, status, share_id, start_date`

func scanInstance(row pgx.Row) (models.Instance, error) {
	var (
		in     models.Instance
		status int16
	)
	err := row.Scan(&in.InstanceID, &in.UserID, &in.Name, &in.APIKeyID, &in.ExchangeID,
		&status, &in.ShareGroupID, &in.StartDate)
	in.Status = models.InstanceStatus(status)
	return in, err
}

const selectInstance = `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1 AND user_id = $2`

// Instance всегда читает свежую строку: статус меняется паникой и UI.
func (s *InstanceStore) Instance(ctx context.Context, instanceID, userID int64) (in models.Instance, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.Instance: %w", err)
		}
	}()

	in, err = scanInstance(s.tx.Conn().QueryRow(ctx, selectInstance, instanceID, userID))
	return in, notFound(err)
}

const selectRunning = `SELECT ` + instanceColumns + ` FROM instances WHERE user_id = $1 AND status = $2 ORDER BY id`

func (s *InstanceStore) RunningInstances(ctx context.Context, userID int64) (out []models.Instance, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.RunningInstances: %w", err)
		}
	}()

	rows, err := s.tx.Conn().Query(ctx, selectRunning, userID, int16(models.InstanceRunning))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Instance, error) {
		return scanInstance(row)
	})
}

const (
	updateStatus = `UPDATE instances SET status = $3 WHERE id = $1 AND user_id = $2`
	// запуск сбрасывает start_date: сигналы до запуска не учитываются
	updateStatusStart = `UPDATE instances SET status = $3, start_date = $4 WHERE id = $1 AND user_id = $2`
)

func (s *InstanceStore) SetStatus(ctx context.Context, instanceID, userID int64, status models.InstanceStatus) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.SetStatus: %w", err)
		}
	}()

	var tag pgconn.CommandTag
	if status == models.InstanceRunning {
		tag, err = s.tx.Conn().Exec(ctx, updateStatusStart, instanceID, userID, int16(status), s.now())
	} else {
		tag, err = s.tx.Conn().Exec(ctx, updateStatus, instanceID, userID, int16(status))
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instance %d: %w", instanceID, models.ErrNotFound)
	}
	return nil
}

const selectStrategy = `
SELECT id, symbol, side, size_mode, perc_balance_operation::text, flat_value::text,
       condition_limit, interval_minutes::float8, simultaneous_ops
FROM strategies
WHERE instance_id = $1 AND side = $2`

func (s *InstanceStore) Strategy(ctx context.Context, instanceID int64, side models.Side) (sc models.StrategyConfig, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.Strategy: %w", err)
		}
	}()

	var sideStr, mode, perc, flat string
	err = s.tx.Conn().QueryRow(ctx, selectStrategy, instanceID, string(side)).Scan(
		&sc.StrategyID, &sc.Symbol, &sideStr, &mode, &perc, &flat,
		&sc.ConditionLimit, &sc.IntervalMinutes, &sc.MaxSimultaneousSameSide,
	)
	if err != nil {
		return sc, notFound(err)
	}

	sc.Side = models.Side(sideStr)
	sc.Sizing.Mode = models.ParseSizingMode(mode)
	if sc.Sizing.Percent, err = decimal.NewFromString(perc); err != nil {
		return sc, err
	}
	if sc.Sizing.FlatValue, err = decimal.NewFromString(flat); err != nil {
		return sc, err
	}
	sc.Normalize()
	return sc, nil
}

const selectLiquidation = `
SELECT i.api_key_id, i.exchange_id, st.symbol
FROM instances i
JOIN strategies st ON st.instance_id = i.id AND st.side = 'sell'
WHERE i.id = $1 AND i.user_id = $2`

// LiquidationTarget: ключи и символ для продажи всей позиции инстанса.
func (s *InstanceStore) LiquidationTarget(ctx context.Context, instanceID, userID int64) (t models.LiquidationTarget, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InstanceStore.LiquidationTarget: %w", err)
		}
	}()

	err = s.tx.Conn().QueryRow(ctx, selectLiquidation, instanceID, userID).
		Scan(&t.APIKeyID, &t.ExchangeID, &t.Symbol)
	return t, notFound(err)
}
