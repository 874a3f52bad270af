package service

import (
	"context"
	"time"

	"deux_backend/internal/models"

	"github.com/shopspring/decimal"
)

// Exchange: возможности биржи, которыми пользуется движок исполнения.
type Exchange interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
	GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error)
	GetLastTrade(ctx context.Context, symbol string) (Trade, error)
}

// OrderRequest: рыночный ордер. Покупка задаётся в котируемой валюте,
// продажа в базовой.
type OrderRequest struct {
	Symbol       string
	Side         models.Side
	Size         decimal.Decimal
	SizeCurrency string
}

type OrderResponse struct {
	OrderID string
	Raw     []byte
}

type OrderStatus struct {
	OrderID   string
	State     string
	FillPrice decimal.Decimal
	FilledQty decimal.Decimal
}

type Trade struct {
	TradeID string
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Side    models.Side
	Time    time.Time
}

type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}
