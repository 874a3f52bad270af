package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

type Instances interface {
	RunningInstances(ctx context.Context, userID int64) ([]models.Instance, error)
	LiquidationTarget(ctx context.Context, instanceID, userID int64) (models.LiquidationTarget, error)
	SetStatus(ctx context.Context, instanceID, userID int64, status models.InstanceStatus) error
}

type States interface {
	State(ctx context.Context, userID int64) (models.PanicState, error)
	Save(ctx context.Context, st models.PanicState) error
	Clear(ctx context.Context, userID int64) error
}

type Disarmer interface {
	DisarmInstance(instanceID int64) int
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

// Controller: аварийная остановка и возобновление всех инстансов
// пользователя. Продажи отправляются в очередь и не ждут исполнения.
type Controller struct {
	instances Instances
	states    States
	publisher brokersvc.Publisher
	monitors  Disarmer
	notifier  Notifier
	tracer    Tracer
	now       func() time.Time

	users [userStripes]sync.Mutex
}

const userStripes = 64

func NewController(
	instances Instances,
	states States,
	publisher brokersvc.Publisher,
	monitors Disarmer,
	notifier Notifier,
	tracer Tracer,
) *Controller {
	return &Controller{
		instances: instances,
		states:    states,
		publisher: publisher,
		monitors:  monitors,
		notifier:  notifier,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// lock сериализует panic/resume одного пользователя внутри процесса.
// Полосы фиксированы: разные пользователи могут делить одну.
func (c *Controller) lock(userID int64) func() {
	m := &c.users[uint64(userID)%userStripes]
	m.Lock()
	return m.Unlock
}

func (c *Controller) Handle(ctx context.Context, t brokersvc.Task) error {
	var req models.PanicRequest
	if err := t.Decode(&req); err != nil {
		return errors.Wrap(err, "decode panic request")
	}

	stage := models.StagePanicProcessor
	c.tracer.Append(ctx, req.TraceID, stage, models.StageStarted,
		tracesvc.WithCorrelation(models.Correlation{UserID: &req.UserID}))

	var (
		res models.PanicResult
		err error
	)
	switch req.Action {
	case models.ActionPanicStop:
		res, err = c.Stop(ctx, req.UserID)
	case models.ActionResumeRestart:
		res, err = c.Resume(ctx, req.UserID, true)
	case models.ActionResumeNoRestart:
		res, err = c.Resume(ctx, req.UserID, false)
	default:
		err = errors.Wrapf(models.ErrInvalidInput, "panic action %q", req.Action)
	}
	if err != nil {
		metrics.Panic.WithLabelValues(string(req.Action), "error").Inc()
		c.tracer.Append(ctx, req.TraceID, stage, models.StageFailed,
			tracesvc.WithError(err), tracesvc.Terminal(models.StageFailed))
		return err
	}
	metrics.Panic.WithLabelValues(string(req.Action), res.Status).Inc()

	status := models.StageCompleted
	if res.Status == StatusSkipped {
		status = models.StageSkipped
	}
	c.tracer.Append(ctx, req.TraceID, stage, status,
		tracesvc.WithMetadata(map[string]any{
			"action":              string(req.Action),
			"status":              res.Status,
			"message":             res.Message,
			"sell_orders_sent":    res.SellOrdersSent,
			"instances_stopped":   res.InstancesStopped,
			"instances_restarted": res.InstancesRestarted,
			"failures":            res.Failures,
		}),
		tracesvc.Terminal(status))
	return nil
}

// Stop продаёт 100% позиции каждого работающего инстанса и останавливает
// его. Повторный вызов при активной панике ничего не делает.
func (c *Controller) Stop(ctx context.Context, userID int64) (models.PanicResult, error) {
	unlock := c.lock(userID)
	defer unlock()

	st, err := c.states.State(ctx, userID)
	if err != nil {
		return models.PanicResult{}, err
	}
	if st.IsPanicActive {
		logger.Info("[PANIC] user %d: already active, skipped", userID)
		return models.PanicResult{Status: StatusSkipped, Message: "panic already active"}, nil
	}

	running, err := c.instances.RunningInstances(ctx, userID)
	if err != nil {
		return models.PanicResult{}, err
	}

	res := models.PanicResult{Status: StatusSuccess}
	stopped := make([]int64, 0, len(running))
	for _, inst := range running {
		if err := c.liquidate(ctx, inst); err != nil {
			res.Failures++
			logger.Error("[PANIC] user %d inst %d: sell: %v", userID, inst.InstanceID, err)
		} else {
			res.SellOrdersSent++
		}

		if err := c.instances.SetStatus(ctx, inst.InstanceID, userID, models.InstanceStopped); err != nil {
			res.Failures++
			logger.Error("[PANIC] user %d inst %d: stop: %v", userID, inst.InstanceID, err)
			continue
		}
		c.monitors.DisarmInstance(inst.InstanceID)
		stopped = append(stopped, inst.InstanceID)
		res.InstancesStopped++
	}

	at := c.now()
	if err := c.states.Save(ctx, models.PanicState{
		UserID:             userID,
		IsPanicActive:      true,
		ActivatedAt:        &at,
		StoppedInstanceIDs: stopped,
	}); err != nil {
		return res, err
	}

	res.Message = fmt.Sprintf("%d sell orders sent, %d instances stopped", res.SellOrdersSent, res.InstancesStopped)
	logger.Info("[PANIC] user %d: %s, %d failures", userID, res.Message, res.Failures)
	c.notify(ctx, userID, fmt.Sprintf("🛑 Паника: отправлено продаж %d, остановлено инстансов %d, ошибок %d",
		res.SellOrdersSent, res.InstancesStopped, res.Failures))
	return res, nil
}

func (c *Controller) liquidate(ctx context.Context, inst models.Instance) error {
	target, err := c.instances.LiquidationTarget(ctx, inst.InstanceID, inst.UserID)
	if err != nil {
		return err
	}
	req := models.ExecutionRequest{
		UserID:     inst.UserID,
		APIKeyID:   target.APIKeyID,
		ExchangeID: target.ExchangeID,
		InstanceID: inst.InstanceID,
		Symbol:     target.Symbol,
		Side:       models.SideSell,
		Sizing:     models.Sizing{Mode: models.SizingPercentage, Percent: decimal.NewFromInt(1)},
	}
	_, err = c.publisher.Publish(ctx, brokersvc.TaskExecuteOperation, req)
	return err
}

// Resume снимает панику. restart возвращает остановленные паникой инстансы
// в работу, пропущенные сигналы не проигрываются.
func (c *Controller) Resume(ctx context.Context, userID int64, restart bool) (models.PanicResult, error) {
	unlock := c.lock(userID)
	defer unlock()

	st, err := c.states.State(ctx, userID)
	if err != nil {
		return models.PanicResult{}, err
	}
	if !st.IsPanicActive {
		return models.PanicResult{Status: StatusSuccess, Message: "panic not active"}, nil
	}

	res := models.PanicResult{Status: StatusSuccess}
	if restart {
		for _, id := range st.StoppedInstanceIDs {
			if err := c.instances.SetStatus(ctx, id, userID, models.InstanceRunning); err != nil {
				res.Failures++
				logger.Error("[PANIC] user %d inst %d: restart: %v", userID, id, err)
				continue
			}
			res.InstancesRestarted++
		}
	}

	if err := c.states.Clear(ctx, userID); err != nil {
		return res, err
	}

	res.Message = fmt.Sprintf("panic cleared, %d instances restarted", res.InstancesRestarted)
	logger.Info("[PANIC] user %d: %s, %d failures", userID, res.Message, res.Failures)
	c.notify(ctx, userID, fmt.Sprintf("▶️ Паника снята, перезапущено инстансов %d", res.InstancesRestarted))
	return res, nil
}

func (c *Controller) notify(ctx context.Context, userID int64, text string) {
	if c.notifier != nil {
		c.notifier.Notify(ctx, userID, text)
	}
}
