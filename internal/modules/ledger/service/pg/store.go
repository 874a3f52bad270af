package pg

import (
	"context"
	"fmt"

	"deux_backend/internal/models"
	"deux_backend/internal/modules/ledger/service"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type PositionStore struct {
	tx db.TxManager
}

var _ service.Store = (*PositionStore)(nil)

func NewPositionStore(tx db.TxManager) *PositionStore {
	return &PositionStore{tx: tx}
}

const insertEntry = `
INSERT INTO position_entries (operation_id, instance_id, user_id, symbol, base_currency, base_qty)
VALUES ($1, $2, $3, $4, $5, $6::numeric)
RETURNING id`

func (s *PositionStore) InsertEntry(ctx context.Context, e models.PositionEntry) (id int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PositionStore.InsertEntry: %w", err)
		}
	}()

	err = s.tx.Conn().QueryRow(ctx, insertEntry,
		e.OperationID, e.InstanceID, e.UserID, e.Symbol, e.BaseCurrency, e.BaseQty.String(),
	).Scan(&id)
	return id, err
}

const selectOpen = `
SELECT id, operation_id, base_currency, base_qty::text, created_at
FROM position_entries
WHERE instance_id = $1 AND user_id = $2 AND symbol = $3 AND closed_by_operation_id IS NULL
ORDER BY id`

func (s *PositionStore) OpenEntries(ctx context.Context, instanceID, userID int64, symbol string) (out []models.PositionEntry, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PositionStore.OpenEntries: %w", err)
		}
	}()

	rows, err := s.tx.Conn().Query(ctx, selectOpen, instanceID, userID, symbol)
	if err != nil {
		return nil, err
	}

	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PositionEntry, error) {
		var (
			e   models.PositionEntry
			qty string
		)
		if err := row.Scan(&e.EntryID, &e.OperationID, &e.BaseCurrency, &qty, &e.CreatedAt); err != nil {
			return e, err
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return e, err
		}
		e.BaseQty = q
		e.InstanceID, e.UserID, e.Symbol = instanceID, userID, symbol
		return e, nil
	})
	return out, err
}

const closeEntries = `
UPDATE position_entries
SET closed_by_operation_id = $1, closed_at = now()
WHERE id = ANY($2) AND closed_by_operation_id IS NULL`

func (s *PositionStore) CloseEntries(ctx context.Context, ids []int64, sellOperationID int64) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PositionStore.CloseEntries: %w", err)
		}
	}()

	err = s.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctxTx, closeEntries, sellOperationID, ids)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
