package service

import (
	"context"
	"time"

	"deux_backend/pkg/logger"

	"github.com/shopspring/decimal"
)

// WaitForFillPrice опрашивает статус ордера каждые poll до первой ненулевой
// цены. По таймауту или отмене ctx возвращает ноль.
func WaitForFillPrice(ctx context.Context, ex Exchange, symbol, orderID string, poll, timeout time.Duration) decimal.Decimal {
	if poll <= 0 {
		poll = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		st, err := ex.GetOrderStatus(ctx, symbol, orderID)
		if err != nil {
			logger.Warn("[EXCHANGE] %s order %s status: %v", ex.Name(), orderID, err)
		} else if st.FillPrice.IsPositive() {
			return st.FillPrice
		}

		select {
		case <-ctx.Done():
			logger.Warn("[EXCHANGE] %s order %s: fill price not resolved in %s", ex.Name(), orderID, timeout)
			return decimal.Zero
		case <-ticker.C:
		}
	}
}
