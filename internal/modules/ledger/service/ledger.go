package service

import (
	"context"

	"deux_backend/internal/models"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Store interface {
	InsertEntry(ctx context.Context, e models.PositionEntry) (int64, error)
	OpenEntries(ctx context.Context, instanceID, userID int64, symbol string) ([]models.PositionEntry, error)
	// CloseEntries закрывает только ещё открытые записи и возвращает их число.
	CloseEntries(ctx context.Context, ids []int64, sellOperationID int64) (int64, error)
}

// Ledger ведёт открытые лоты покупок по инстансу и символу.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// RecordEntry открывает новый лот на каждую успешную покупку.
func (l *Ledger) RecordEntry(
	ctx context.Context,
	operationID, instanceID, userID int64,
	symbol, baseCurrency string,
	qty decimal.Decimal,
) (int64, error) {
	if !qty.IsPositive() {
		return 0, errors.Wrapf(models.ErrInvalidInput, "entry qty %s", qty)
	}
	id, err := l.store.InsertEntry(ctx, models.PositionEntry{
		OperationID:  operationID,
		InstanceID:   instanceID,
		UserID:       userID,
		Symbol:       symbol,
		BaseCurrency: baseCurrency,
		BaseQty:      qty,
	})
	if err != nil {
		return 0, errors.Wrap(err, "ledger: record entry")
	}
	logger.Info("[LEDGER] entry %d for op %d | inst:%d user:%d %s qty:%s",
		id, operationID, instanceID, userID, symbol, qty)
	return id, nil
}

// OpenPosition: сумма открытых лотов и их id в момент чтения.
func (l *Ledger) OpenPosition(ctx context.Context, instanceID, userID int64, symbol string) (models.OpenPosition, error) {
	entries, err := l.store.OpenEntries(ctx, instanceID, userID, symbol)
	if err != nil {
		return models.OpenPosition{}, errors.Wrap(err, "ledger: open position")
	}

	pos := models.OpenPosition{Total: decimal.Zero, EntryIDs: make([]int64, 0, len(entries))}
	for _, e := range entries {
		pos.Total = pos.Total.Add(e.BaseQty)
		pos.EntryIDs = append(pos.EntryIDs, e.EntryID)
	}
	return pos, nil
}

// CloseEntries помечает ровно тот набор id, что был снят при расчёте продажи.
func (l *Ledger) CloseEntries(ctx context.Context, ids []int64, sellOperationID int64) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := l.store.CloseEntries(ctx, ids, sellOperationID)
	if err != nil {
		return errors.Wrap(err, "ledger: close entries")
	}
	if int(n) != len(ids) {
		logger.Warn("[LEDGER] sell op %d: closed %d of %d entries, rest already closed",
			sellOperationID, n, len(ids))
	} else {
		logger.Info("[LEDGER] sell op %d closed %d entries", sellOperationID, n)
	}
	return nil
}
