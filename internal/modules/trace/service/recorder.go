package service

import (
	"context"
	"strings"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Update: изменения строки трейса помимо добавленной стадии.
type Update struct {
	CurrentStage string
	Final        *models.StageStatus
	CompletedAt  *time.Time
	ErrorMessage string
	Correlation  models.Correlation
}

type Store interface {
	Create(ctx context.Context, tr models.Trace) error
	Append(ctx context.Context, traceID string, entry models.StageEntry, upd Update) error
}

// Recorder пишет журнал стадий. Любой сбой записи глотается: трассировка не
// влияет на исход пайплайна.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: func() time.Time { return time.Now().UTC() }}
}

type appendOptions struct {
	metadata    map[string]any
	errText     string
	taskRef     string
	correlation models.Correlation
	final       *models.StageStatus
}

type Option func(*appendOptions)

func WithMetadata(md map[string]any) Option {
	return func(o *appendOptions) { o.metadata = md }
}

func WithError(err error) Option {
	return func(o *appendOptions) {
		if err != nil {
			o.errText = err.Error()
		}
	}
}

func WithErrorText(s string) Option {
	return func(o *appendOptions) { o.errText = s }
}

func WithTaskRef(ref string) Option {
	return func(o *appendOptions) { o.taskRef = ref }
}

func WithCorrelation(c models.Correlation) Option {
	return func(o *appendOptions) { o.correlation = c }
}

// Terminal закрывает трейс с явно переданным итоговым статусом.
func Terminal(final models.StageStatus) Option {
	return func(o *appendOptions) { o.final = &final }
}

// NewTraceID: 32 hex-символа.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// KeySuffix: последние 4 символа ключа, сам ключ не храним.
func KeySuffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

// Start создаёт трейс с первой стадией webhook_received. "" при сбое.
func (r *Recorder) Start(ctx context.Context, pattern models.Pattern, action models.Action, key string) (traceID string) {
	defer r.swallow("start", &traceID)

	now := r.now()
	tr := models.Trace{
		TraceID:         NewTraceID(),
		Pattern:         pattern,
		Action:          action,
		SignalKeySuffix: KeySuffix(key),
		Stages: []models.StageEntry{{
			Stage:     models.StageWebhookReceived,
			Status:    models.StageCompleted,
			Timestamp: now,
			Metadata:  map[string]any{"pattern": string(pattern), "action": string(action)},
		}},
		CurrentStage: models.StageWebhookReceived,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.Create(ctx, tr); err != nil {
		r.fault("start", tr.TraceID, err)
		return ""
	}
	return tr.TraceID
}

// Append добавляет стадию. Пустой traceID: no-op.
func (r *Recorder) Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...Option) {
	if traceID == "" {
		return
	}
	var empty string
	defer r.swallow("append", &empty)

	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.taskRef == "" {
		if t, ok := brokersvc.TaskFrom(ctx); ok {
			o.taskRef = t.ID
		}
	}

	now := r.now()
	entry := models.StageEntry{
		Stage:     stage,
		Status:    status,
		Timestamp: now,
		TaskRef:   o.taskRef,
		Metadata:  o.metadata,
		Error:     o.errText,
	}
	upd := Update{
		CurrentStage: stage,
		Correlation:  o.correlation,
	}
	if o.final != nil {
		upd.Final = o.final
		upd.CompletedAt = &now
		upd.ErrorMessage = o.errText
	}

	if err := r.store.Append(ctx, traceID, entry, upd); err != nil {
		r.fault("append "+stage, traceID, err)
	}
}

func (r *Recorder) swallow(op string, reset *string) {
	if p := recover(); p != nil {
		metrics.TraceFaults.Inc()
		logger.Errorw("[TRACE] panic swallowed", zap.String("op", op), zap.Any("panic", p))
		*reset = ""
	}
}

func (r *Recorder) fault(op, traceID string, err error) {
	metrics.TraceFaults.Inc()
	logger.Warnw("[TRACE] write failed",
		zap.String("op", op),
		zap.String("trace_id", traceID),
		zap.Error(err),
	)
}
