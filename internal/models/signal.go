package models

import "time"

type Pattern string

const (
	PatternInstance Pattern = "instance"
	PatternUser     Pattern = "user"
)

type Action string

const (
	ActionBuy             Action = "buy"
	ActionSell            Action = "sell"
	ActionPanicStop       Action = "panic_stop"
	ActionResumeRestart   Action = "resume_restart"
	ActionResumeNoRestart Action = "resume_no_restart"
)

// ValidFor проверяет, что действие допустимо для паттерна.
func (a Action) ValidFor(p Pattern) bool {
	switch p {
	case PatternInstance:
		return a == ActionBuy || a == ActionSell
	case PatternUser:
		return a == ActionPanicStop || a == ActionResumeRestart || a == ActionResumeNoRestart
	}
	return false
}

// SignalMessage: полезная нагрузка задачи webhook.receipt.
type SignalMessage struct {
	Key        string    `json:"key"`
	Pattern    Pattern   `json:"pattern"`
	Action     Action    `json:"action"`
	TraceID    string    `json:"trace_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// KeyAuth: результат аутентификации ключа инстанса.
type KeyAuth struct {
	UserID       int64
	InstanceID   int64
	Symbol       string
	IndicatorID  int64
	DelaySeconds int
}

// GateRequest: полезная нагрузка задачи webhook.processor.
type GateRequest struct {
	InstanceID  int64  `json:"instance_id"`
	UserID      int64  `json:"user_id"`
	Symbol      string `json:"symbol"`
	IndicatorID int64  `json:"indicator_id"`
	Side        Side   `json:"side"`
	Key         string `json:"key"`
	TraceID     string `json:"trace_id,omitempty"`
}

// PanicRequest: полезная нагрузка задачи panic.processor.
type PanicRequest struct {
	UserID  int64  `json:"user_id"`
	Action  Action `json:"action"`
	TraceID string `json:"trace_id,omitempty"`
}

// SignalRow: сохранённый входящий сигнал.
type SignalRow struct {
	ID          int64
	InstanceID  int64
	Symbol      string
	Side        Side
	IndicatorID int64
	CreatedAt   time.Time
}
