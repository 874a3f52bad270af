package pg

import (
	"context"
	"fmt"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type OperationStore struct {
	tx db.TxManager
}

func NewOperationStore(tx db.TxManager) *OperationStore {
	return &OperationStore{tx: tx}
}

const insertOperation = `
INSERT INTO operations (user_id, instance_id, api_key_id, exchange_id, symbol, side, status,
                        size, currency, base_currency, order_id, order_response, filled_base_qty,
                        price, trace_id, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, NULLIF($11, ''), $12::jsonb, $13::numeric,
        NULLIF($14::numeric, 0), NULLIF($15, ''), $16)
RETURNING id`

// Insert сохраняет принятую биржей операцию.
func (s *OperationStore) Insert(ctx context.Context, req models.ExecutionRequest, res models.OperationResult) (id int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.OperationStore.Insert: %w", err)
		}
	}()

	var resp *string
	if len(res.OrderResponse) > 0 {
		v := string(res.OrderResponse)
		resp = &v
	}
	err = s.tx.Conn().QueryRow(ctx, insertOperation,
		req.UserID, req.InstanceID, req.APIKeyID, req.ExchangeID, req.Symbol, string(req.Side),
		string(res.Status), res.Size.String(), res.Currency, res.BaseCurrency, res.OrderID, resp,
		res.FilledBaseQty.String(), res.FillPrice.String(), req.TraceID, res.ExecutedAt,
	).Scan(&id)
	return id, err
}

const selectLast = `
SELECT id, side, executed_at
FROM operations
WHERE instance_id = $1 AND symbol = $2
ORDER BY executed_at DESC, id DESC
LIMIT $3`

// LastOperations: последние limit операций линии, новые первыми.
func (s *OperationStore) LastOperations(ctx context.Context, instanceID int64, symbol string, limit int) (out []models.Operation, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.OperationStore.LastOperations: %w", err)
		}
	}()

	rows, err := s.tx.Conn().Query(ctx, selectLast, instanceID, symbol, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Operation, error) {
		var (
			op   models.Operation
			side string
		)
		err := row.Scan(&op.ID, &side, &op.ExecutedAt)
		op.Side = models.Side(side)
		return op, err
	})
}

const updatePrice = `UPDATE operations SET price = $2::numeric WHERE id = $1`

func (s *OperationStore) SetPrice(ctx context.Context, operationID int64, price decimal.Decimal) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.OperationStore.SetPrice: %w", err)
		}
	}()

	tag, err := s.tx.Conn().Exec(ctx, updatePrice, operationID, price.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %d: %w", operationID, models.ErrNotFound)
	}
	return nil
}
