package service

import (
	"context"
	"fmt"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
)

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) models.OperationResult
}

// Worker: обработчик trade.execute_operation: исполнение, постановка
// сохранения и рассылка подписчикам группы.
type Worker struct {
	engine         Executor
	publisher      brokersvc.Publisher
	tracer         Tracer
	notifier       Notifier
	shareCountdown time.Duration
}

func NewWorker(engine Executor, publisher brokersvc.Publisher, tracer Tracer, notifier Notifier, shareCountdown time.Duration) *Worker {
	return &Worker{
		engine:         engine,
		publisher:      publisher,
		tracer:         tracer,
		notifier:       notifier,
		shareCountdown: shareCountdown,
	}
}

func (w *Worker) Handle(ctx context.Context, t brokersvc.Task) error {
	var req models.ExecutionRequest
	if err := t.Decode(&req); err != nil {
		return errors.Wrap(err, "decode execution request")
	}

	stage := models.StageTradeExecution
	w.tracer.Append(ctx, req.TraceID, stage, models.StageStarted,
		tracesvc.WithCorrelation(models.Correlation{
			UserID:     &req.UserID,
			InstanceID: &req.InstanceID,
			Symbol:     req.Symbol,
		}))

	res := w.engine.Execute(ctx, req)
	md := tracesvc.WithMetadata(map[string]any{
		"status":   string(res.Status),
		"size":     res.Size.String(),
		"currency": res.Currency,
		"order_id": res.OrderID,
	})

	// копии уходят подписчикам при любом исходе, кроме ошибки
	if req.ShareGroupID != nil && res.Status != models.OpError {
		w.fanOut(ctx, req)
	}

	switch {
	case res.Accepted:
		_, err := w.publisher.Publish(ctx, brokersvc.TaskSaveOperation,
			models.PersistRequest{Request: req, Result: res}, brokersvc.WithTraceID(req.TraceID))
		if err != nil {
			err = errors.Wrap(err, "enqueue save operation")
			w.tracer.Append(ctx, req.TraceID, stage, models.StageFailed,
				md, tracesvc.WithError(err), tracesvc.Terminal(models.StageFailed))
			return err
		}
		w.tracer.Append(ctx, req.TraceID, stage, models.StageCompleted, md)

	case res.Status == models.OpError:
		w.tracer.Append(ctx, req.TraceID, stage, models.StageFailed,
			md, tracesvc.WithErrorText(res.Message), tracesvc.Terminal(models.StageFailed))
		if w.notifier != nil {
			w.notifier.Notify(ctx, req.UserID, fmt.Sprintf("⚠️ %s %s на инстансе %d не исполнен: %s",
				req.Side, req.Symbol, req.InstanceID, res.Message))
		}
		return errors.New(res.Message)

	case res.Status == models.OpNoPosition:
		w.tracer.Append(ctx, req.TraceID, stage, models.StageSkipped,
			md, tracesvc.WithErrorText(res.Message), tracesvc.Terminal(models.StageSkipped))

	case res.Status == models.OpInsufficientBalance:
		w.tracer.Append(ctx, req.TraceID, stage, models.StageFailed,
			md, tracesvc.WithErrorText(res.Message), tracesvc.Terminal(models.StageFailed))

	default:
		w.tracer.Append(ctx, req.TraceID, stage, models.StageCompleted,
			md, tracesvc.Terminal(models.StageCompleted))
	}
	return nil
}

func (w *Worker) fanOut(ctx context.Context, req models.ExecutionRequest) {
	sr := models.SharingRequest{
		ShareGroupID: *req.ShareGroupID,
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Sizing:       req.Sizing,
		TraceID:      req.TraceID,
	}
	_, err := w.publisher.Publish(ctx, brokersvc.TaskSharing, sr,
		brokersvc.WithCountdown(w.shareCountdown), brokersvc.WithTraceID(req.TraceID))
	if err != nil {
		logger.Error("[ENGINE] share %d: enqueue fan-out: %v", sr.ShareGroupID, err)
	}
}
