package service

import (
	"time"

	"github.com/bytedance/sonic"
)

// Задачи пайплайна и их очереди.
const (
	TaskWebhookReceipt   = "webhook.receipt"
	TaskWebhookProcessor = "webhook.processor"
	TaskExecuteOperation = "trade.execute_operation"
	TaskSaveOperation    = "trade.save_operation"
	TaskSharing          = "sharing.process"
	TaskPanic            = "panic.processor"
	TaskEnrichPrice      = "price.fetch_execution_price"
)

const (
	QueueWebhook = "webhook"
	QueueLogic   = "logic"
	QueueOps     = "ops"
	QueuePersist = "persist"
	QueueSharing = "sharing"
	QueuePanic   = "panic"
	QueuePrice   = "price"
)

type Task struct {
	ID         string
	Name       string
	Queue      string
	TraceID    string
	Body       []byte
	EnqueuedAt time.Time
}

// Decode разбирает JSON-нагрузку задачи.
func (t Task) Decode(v any) error {
	return sonic.Unmarshal(t.Body, v)
}

type publishOptions struct {
	countdown time.Duration
	traceID   string
}

type PublishOption func(*publishOptions)

// WithCountdown откладывает постановку в очередь.
func WithCountdown(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.countdown = d }
}

// WithTraceID помечает задачу id трейса пайплайна (для спанов и логов).
func WithTraceID(id string) PublishOption {
	return func(o *publishOptions) { o.traceID = id }
}

// Countdown: задержка, которую зададут опции. Нужна фейковым паблишерам.
func Countdown(opts ...PublishOption) time.Duration {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.countdown
}
