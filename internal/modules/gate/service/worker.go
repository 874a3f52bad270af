package service

import (
	"context"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

// Armer ставит монитор, который перепроверит гейт после истечения интервала.
type Armer interface {
	Arm(req models.GateRequest) bool
}

// Worker: обработчик задачи webhook.processor.
type Worker struct {
	gate   *Gate
	tracer Tracer
	armer  Armer
}

func NewWorker(gate *Gate, tracer Tracer, armer Armer) *Worker {
	return &Worker{gate: gate, tracer: tracer, armer: armer}
}

func (w *Worker) Handle(ctx context.Context, t brokersvc.Task) error {
	var req models.GateRequest
	if err := t.Decode(&req); err != nil {
		return errors.Wrap(err, "decode gate request")
	}

	corr := tracesvc.WithCorrelation(models.Correlation{
		UserID:     &req.UserID,
		InstanceID: &req.InstanceID,
		Symbol:     req.Symbol,
	})
	w.tracer.Append(ctx, req.TraceID, models.StageWebhookProcessor, models.StageStarted, corr)

	res, err := w.gate.Process(ctx, req, tracesvc.KeySuffix(req.Key))
	md := tracesvc.WithMetadata(map[string]any{
		"decision": string(res.Decision),
		"reason":   res.Reason,
		"side":     string(req.Side),
	})

	switch {
	case err != nil:
		w.tracer.Append(ctx, req.TraceID, models.StageWebhookProcessor, models.StageFailed,
			md, tracesvc.WithError(err), tracesvc.Terminal(models.StageFailed))
		return err

	case res.Decision == DecisionSkip:
		w.tracer.Append(ctx, req.TraceID, models.StageWebhookProcessor, models.StageSkipped,
			md, tracesvc.WithErrorText(res.Message), tracesvc.Terminal(models.StageSkipped))
		if res.Reason == ReasonInterval && w.armer != nil {
			if w.armer.Arm(req) {
				logger.Infow("[GATE] monitor armed",
					zap.Int64("instance_id", req.InstanceID),
					zap.String("side", string(req.Side)),
					zap.String("trace_id", req.TraceID))
			}
		}
		return nil
	}

	w.tracer.Append(ctx, req.TraceID, models.StageWebhookProcessor, models.StageCompleted,
		tracesvc.WithMetadata(map[string]any{
			"decision":       string(res.Decision),
			"side":           string(req.Side),
			"execution_task": res.TaskID,
			"signals":        len(res.SignalIDs),
		}))
	return nil
}
