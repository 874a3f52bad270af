package service

import (
	"context"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	StatusQueued = "queued"
	StatusError  = "error"
)

type Keys interface {
	InstanceKey(ctx context.Context, key string) (models.KeyAuth, error)
	UserKey(ctx context.Context, key string) (int64, error)
}

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

// Result: ответ маршрутизатора. Ошибки бизнес-логики выражаются здесь,
// наружу не пробрасываются.
type Result struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	TaskID  string        `json:"task_id,omitempty"`
	Delay   time.Duration `json:"-"`
}

// Router аутентифицирует ключ и отправляет сигнал в гейт или в панику.
type Router struct {
	keys      Keys
	publisher brokersvc.Publisher
	tracer    Tracer
}

func NewRouter(keys Keys, publisher brokersvc.Publisher, tracer Tracer) *Router {
	return &Router{keys: keys, publisher: publisher, tracer: tracer}
}

func (r *Router) Handle(ctx context.Context, t brokersvc.Task) error {
	var msg models.SignalMessage
	if err := t.Decode(&msg); err != nil {
		logger.Warn("[ROUTER] task %s: bad payload: %v", t.ID, err)
		return nil
	}
	r.Route(ctx, msg)
	return nil
}

func (r *Router) Route(ctx context.Context, msg models.SignalMessage) Result {
	if msg.Key == "" {
		return r.reject(ctx, msg, errors.Wrap(models.ErrInvalidInput, "key is required"))
	}
	if msg.Pattern != models.PatternInstance && msg.Pattern != models.PatternUser {
		return r.reject(ctx, msg, errors.Wrapf(models.ErrInvalidInput, "unknown pattern %q", msg.Pattern))
	}
	if !msg.Action.ValidFor(msg.Pattern) {
		return r.reject(ctx, msg, errors.Wrapf(models.ErrInvalidInput,
			"action %q is not valid for pattern %q", msg.Action, msg.Pattern))
	}

	if msg.Pattern == models.PatternUser {
		return r.routeUser(ctx, msg)
	}
	return r.routeInstance(ctx, msg)
}

func (r *Router) routeInstance(ctx context.Context, msg models.SignalMessage) Result {
	auth, err := r.keys.InstanceKey(ctx, msg.Key)
	if err != nil {
		return r.reject(ctx, msg, authError(err))
	}
	side, err := models.ParseSide(string(msg.Action))
	if err != nil {
		return r.reject(ctx, msg, err)
	}

	corr := tracesvc.WithCorrelation(models.Correlation{
		UserID:     &auth.UserID,
		InstanceID: &auth.InstanceID,
		Symbol:     auth.Symbol,
	})
	delay := time.Duration(auth.DelaySeconds) * time.Second
	r.tracer.Append(ctx, msg.TraceID, models.StageWebhookReceipt, models.StageCompleted, corr,
		tracesvc.WithMetadata(map[string]any{
			"side":          string(side),
			"indicator_id":  auth.IndicatorID,
			"delay_seconds": auth.DelaySeconds,
		}))

	req := models.GateRequest{
		InstanceID:  auth.InstanceID,
		UserID:      auth.UserID,
		Symbol:      auth.Symbol,
		IndicatorID: auth.IndicatorID,
		Side:        side,
		Key:         msg.Key,
		TraceID:     msg.TraceID,
	}
	opts := []brokersvc.PublishOption{brokersvc.WithTraceID(msg.TraceID)}
	if delay > 0 {
		opts = append(opts, brokersvc.WithCountdown(delay))
	}
	id, err := r.publisher.Publish(ctx, brokersvc.TaskWebhookProcessor, req, opts...)
	if err != nil {
		return r.reject(ctx, msg, errors.Wrap(err, "enqueue gate"))
	}

	metrics.Signals.WithLabelValues(string(msg.Pattern), "routed").Inc()
	logger.Infow("[ROUTER] signal routed",
		zap.Int64("user_id", auth.UserID),
		zap.Int64("instance_id", auth.InstanceID),
		zap.String("symbol", auth.Symbol),
		zap.String("side", string(side)),
		zap.Duration("delay", delay),
		zap.String("trace_id", msg.TraceID),
	)
	return Result{Status: StatusQueued, Message: "signal routed to gate", TaskID: id, Delay: delay}
}

// routeUser: паника и возобновление уходят сразу, без задержки.
func (r *Router) routeUser(ctx context.Context, msg models.SignalMessage) Result {
	userID, err := r.keys.UserKey(ctx, msg.Key)
	if err != nil {
		return r.reject(ctx, msg, authError(err))
	}

	r.tracer.Append(ctx, msg.TraceID, models.StageWebhookReceipt, models.StageCompleted,
		tracesvc.WithCorrelation(models.Correlation{UserID: &userID}),
		tracesvc.WithMetadata(map[string]any{"action": string(msg.Action)}))

	id, err := r.publisher.Publish(ctx, brokersvc.TaskPanic, models.PanicRequest{
		UserID:  userID,
		Action:  msg.Action,
		TraceID: msg.TraceID,
	}, brokersvc.WithTraceID(msg.TraceID))
	if err != nil {
		return r.reject(ctx, msg, errors.Wrap(err, "enqueue panic"))
	}

	metrics.Signals.WithLabelValues(string(msg.Pattern), "routed").Inc()
	logger.Info("[ROUTER] user %d: %s routed", userID, msg.Action)
	return Result{Status: StatusQueued, Message: "control action routed", TaskID: id}
}

func (r *Router) reject(ctx context.Context, msg models.SignalMessage, err error) Result {
	metrics.Signals.WithLabelValues(string(msg.Pattern), "rejected").Inc()
	logger.Warnw("[ROUTER] signal rejected",
		zap.String("pattern", string(msg.Pattern)),
		zap.String("action", string(msg.Action)),
		zap.String("key_suffix", tracesvc.KeySuffix(msg.Key)),
		zap.String("trace_id", msg.TraceID),
		zap.Error(err),
	)
	r.tracer.Append(ctx, msg.TraceID, models.StageWebhookReceipt, models.StageFailed,
		tracesvc.WithError(err), tracesvc.Terminal(models.StageFailed))
	return Result{Status: StatusError, Message: err.Error()}
}

func authError(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return errors.Wrap(models.ErrAuthentication, "unknown key")
	}
	return err
}
