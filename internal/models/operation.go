package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OperationStatus string

const (
	OpSuccess             OperationStatus = "success"
	OpNoPosition          OperationStatus = "no_position"
	OpInsufficientBalance OperationStatus = "insufficient_balance"
	OpSkipped             OperationStatus = "skipped"
	OpError               OperationStatus = "error"
)

// ExecutionRequest: полезная нагрузка задачи trade.execute_operation.
// ShareGroupID заполнен только у исходной операции: копии не размножаются.
type ExecutionRequest struct {
	UserID       int64           `json:"user_id"`
	APIKeyID     int64           `json:"api_key"`
	ExchangeID   int64           `json:"exchange_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	InstanceID   int64           `json:"instance_id"`
	Sizing       Sizing          `json:"sizing"`
	BalanceCap   decimal.Decimal `json:"balance_cap"`
	ShareGroupID *int64          `json:"share_id,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
}

// OperationResult: итог одного исполнения.
type OperationResult struct {
	Status         OperationStatus `json:"status"`
	Accepted       bool            `json:"accepted"`
	Message        string          `json:"message,omitempty"`
	Size           decimal.Decimal `json:"size"`
	Currency       string          `json:"currency"`
	BaseCurrency   string          `json:"base_currency"`
	OrderID        string          `json:"order_id,omitempty"`
	OrderResponse  json.RawMessage `json:"order_response,omitempty"`
	FilledBaseQty  decimal.Decimal `json:"filled_base_qty"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	ClosedEntryIDs []int64         `json:"closed_entry_ids,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// PersistRequest: полезная нагрузка задачи trade.save_operation.
type PersistRequest struct {
	Request ExecutionRequest `json:"request"`
	Result  OperationResult  `json:"result"`
}

// Operation: строка истории для проверки интервала.
type Operation struct {
	ID         int64
	Side       Side
	ExecutedAt time.Time
}

// SharingRequest: полезная нагрузка задачи sharing.process.
type SharingRequest struct {
	ShareGroupID int64  `json:"share_id"`
	UserID       int64  `json:"user_id"`
	Symbol       string `json:"symbol"`
	Side         Side   `json:"side"`
	Sizing       Sizing `json:"sizing"`
	TraceID      string `json:"trace_id,omitempty"`
}

// Subscriber: подписчик группы копирования.
type Subscriber struct {
	UserID     int64
	APIKeyID   int64
	ExchangeID int64
	InstanceID int64
	Cap        decimal.Decimal
}

// EnrichRequest: полезная нагрузка задачи price.fetch_execution_price.
type EnrichRequest struct {
	OperationID int64     `json:"operation_id"`
	Symbol      string    `json:"symbol"`
	ExecutedAt  time.Time `json:"executed_at"`
	Retries     int       `json:"retries"`
}
