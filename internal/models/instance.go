package models

import "time"

type InstanceStatus int

const (
	InstanceStopped InstanceStatus = 1
	InstanceRunning InstanceStatus = 2
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceStopped:
		return "stopped"
	case InstanceRunning:
		return "running"
	}
	return "unknown"
}

// Instance: торговый инстанс пользователя. Статус всегда читается заново.
type Instance struct {
	InstanceID   int64
	UserID       int64
	Name         string
	APIKeyID     int64
	ExchangeID   int64
	Status       InstanceStatus
	ShareGroupID *int64
	StartDate    time.Time
}

// LiquidationTarget: всё, что нужно для продажи 100% позиции инстанса.
type LiquidationTarget struct {
	APIKeyID   int64
	ExchangeID int64
	Symbol     string
}
