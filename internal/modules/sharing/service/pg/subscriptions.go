package pg

import (
	"context"
	"fmt"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type SubscriptionStore struct {
	tx db.TxManager
}

func NewSubscriptionStore(tx db.TxManager) *SubscriptionStore {
	return &SubscriptionStore{tx: tx}
}

const selectSubscribers = `
SELECT user_id, api_key_id, exchange_id, instance_id, max_value::text
FROM share_subscriptions
WHERE share_id = $1 AND active
ORDER BY id`

// Subscribers: активные подписчики группы копирования.
func (s *SubscriptionStore) Subscribers(ctx context.Context, shareGroupID int64) (out []models.Subscriber, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SubscriptionStore.Subscribers: %w", err)
		}
	}()

	rows, err := s.tx.Conn().Query(ctx, selectSubscribers, shareGroupID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subscriber, error) {
		var (
			sub      models.Subscriber
			maxValue string
		)
		if err := row.Scan(&sub.UserID, &sub.APIKeyID, &sub.ExchangeID, &sub.InstanceID, &maxValue); err != nil {
			return sub, err
		}
		v, err := decimal.NewFromString(maxValue)
		if err != nil {
			return sub, err
		}
		sub.Cap = v
		return sub, nil
	})
}
