package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketTrade: сделка с публичной ленты. Symbol без дефиса: BTCUSDT.
type MarketTrade struct {
	TradeID  string
	Symbol   string
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Side     Side
	TradedAt time.Time
}
