package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionEntry: один открытый лот покупки. Лоты не сливаются.
type PositionEntry struct {
	EntryID             int64
	OperationID         int64
	InstanceID          int64
	UserID              int64
	Symbol              string
	BaseCurrency        string
	BaseQty             decimal.Decimal
	ClosedByOperationID *int64
	CreatedAt           time.Time
}

type OpenPosition struct {
	Total    decimal.Decimal
	EntryIDs []int64
}
