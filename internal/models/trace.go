package models

import "time"

type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

const (
	StageWebhookReceived  = "webhook_received"
	StageWebhookReceipt   = "webhook_receipt"
	StageWebhookProcessor = "webhook_processor"
	StageTradeExecution   = "trade_execution"
	StageSaveOperation    = "save_operation"
	StageSharing          = "sharing"
	StagePanicProcessor   = "panic_processor"
)

type StageEntry struct {
	Stage     string         `json:"stage"`
	Status    StageStatus    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	TaskRef   string         `json:"celery_task_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Correlation: необязательные поля связи трейса с сущностями.
type Correlation struct {
	UserID     *int64
	InstanceID *int64
	Symbol     string
}

type Trace struct {
	TraceID         string
	Pattern         Pattern
	Action          Action
	SignalKeySuffix string
	Stages          []StageEntry
	CurrentStage    string
	FinalStatus     *StageStatus
	CompletedAt     *time.Time
	ErrorMessage    string
	Correlation     Correlation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
