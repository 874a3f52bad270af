package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
)

type Decision string

const (
	DecisionRun   Decision = "run"
	DecisionSkip  Decision = "skip"
	DecisionError Decision = "error"
)

// Причины пропуска.
const (
	ReasonNotRunning  = "instance_not_running"
	ReasonSameSide    = "same_side_limit"
	ReasonInterval    = "interval_not_elapsed"
	ReasonConditions  = "conditions_not_met"
	ReasonNoSignals   = "no_signals"
	ReasonQueued      = "queued"
	ReasonUnavailable = "unavailable"
)

type Instances interface {
	Instance(ctx context.Context, instanceID, userID int64) (models.Instance, error)
	Strategy(ctx context.Context, instanceID int64, side models.Side) (models.StrategyConfig, error)
}

type Signals interface {
	Insert(ctx context.Context, row models.SignalRow, keySuffix, traceID string) (models.SignalRow, error)
	Unconsumed(ctx context.Context, instanceID int64, symbol string, side models.Side, since time.Time) ([]models.SignalRow, error)
	// Tag возвращает, сколько сигналов реально помечено этой задачей.
	Tag(ctx context.Context, ids []int64, taskRef string) (int64, error)
}

type History interface {
	LastOperations(ctx context.Context, instanceID int64, symbol string, limit int) ([]models.Operation, error)
}

// Result: решение гейта. Request и TaskID заполнены только при RUN.
type Result struct {
	Decision  Decision
	Reason    string
	Message   string
	Request   models.ExecutionRequest
	SignalIDs []int64
	Claimed   int64
	TaskID    string
}

const claimStripes = 64

// Gate решает, превращается ли сигнал в ордер. Вызывается воркером очереди
// и мониторами. Чтение несъеденных сигналов, постановка и пометка идут под
// замком полосы (инстанс, сторона), чтобы параллельные вызовы в одном
// процессе не отправили одни и те же сигналы дважды.
type Gate struct {
	instances Instances
	signals   Signals
	history   History
	publisher brokersvc.Publisher
	now       func() time.Time

	claims [claimStripes]sync.Mutex
}

func NewGate(instances Instances, signals Signals, history History, publisher brokersvc.Publisher) *Gate {
	return &Gate{
		instances: instances,
		signals:   signals,
		history:   history,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process: путь входящего сигнала: проверка статуса, запись сигнала, оценка.
func (g *Gate) Process(ctx context.Context, req models.GateRequest, keySuffix string) (Result, error) {
	// 1) статус читаем заново
	inst, res, err := g.runningInstance(ctx, req.InstanceID, req.UserID)
	if err != nil || res.Decision == DecisionSkip {
		return res, err
	}

	// 2) сигнал сохраняется при любом дальнейшем исходе
	_, err = g.signals.Insert(ctx, models.SignalRow{
		InstanceID:  req.InstanceID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		IndicatorID: req.IndicatorID,
	}, keySuffix, req.TraceID)
	if err != nil {
		return g.fail(errors.Wrap(err, "gate: save signal"))
	}

	return g.evaluate(ctx, inst, req.Side, req.TraceID)
}

// Evaluate: повторная проверка без нового сигнала (мониторы).
func (g *Gate) Evaluate(ctx context.Context, instanceID, userID int64, side models.Side, traceID string) (Result, error) {
	inst, res, err := g.runningInstance(ctx, instanceID, userID)
	if err != nil || res.Decision == DecisionSkip {
		return res, err
	}
	return g.evaluate(ctx, inst, side, traceID)
}

func (g *Gate) runningInstance(ctx context.Context, instanceID, userID int64) (models.Instance, Result, error) {
	inst, err := g.instances.Instance(ctx, instanceID, userID)
	if err != nil {
		res, err := g.fail(errors.Wrapf(err, "gate: instance %d", instanceID))
		return inst, res, err
	}
	if inst.Status != models.InstanceRunning {
		return inst, g.skip(ReasonNotRunning, "instance not running"), nil
	}
	return inst, Result{}, nil
}

func (g *Gate) evaluate(ctx context.Context, inst models.Instance, side models.Side, traceID string) (Result, error) {
	// 3) стратегия стороны
	strategy, err := g.instances.Strategy(ctx, inst.InstanceID, side)
	if err != nil {
		return g.fail(errors.Wrapf(err, "gate: %s strategy of instance %d", side, inst.InstanceID))
	}

	// 4) интервал
	history, err := g.history.LastOperations(ctx, inst.InstanceID, strategy.Symbol, strategy.MaxSimultaneousSameSide)
	if err != nil {
		return g.fail(errors.Wrap(err, "gate: operations history"))
	}
	if ok, reason, msg := CheckInterval(history, side, strategy.IntervalMinutes, g.now()); !ok {
		return g.skip(reason, msg), nil
	}

	// 5) условия
	mu := g.claimLock(inst.InstanceID, side)
	mu.Lock()
	defer mu.Unlock()

	rows, err := g.signals.Unconsumed(ctx, inst.InstanceID, strategy.Symbol, side, inst.StartDate)
	if err != nil {
		return g.fail(errors.Wrap(err, "gate: unconsumed signals"))
	}
	ids, ok := CheckConditions(rows, strategy.ConditionLimit)
	if len(rows) == 0 {
		return g.skip(ReasonNoSignals, "no unconsumed signals"), nil
	}
	if !ok {
		return g.skip(ReasonConditions,
			fmt.Sprintf("need %d distinct indicators", strategy.ConditionLimit)), nil
	}

	// 6) RUN
	req := models.ExecutionRequest{
		UserID:       inst.UserID,
		APIKeyID:     inst.APIKeyID,
		ExchangeID:   inst.ExchangeID,
		Symbol:       strategy.Symbol,
		Side:         side,
		InstanceID:   inst.InstanceID,
		Sizing:       strategy.Sizing,
		ShareGroupID: inst.ShareGroupID,
		TraceID:      traceID,
	}
	taskID, err := g.publisher.Publish(ctx, brokersvc.TaskExecuteOperation, req, brokersvc.WithTraceID(traceID))
	if err != nil {
		return g.fail(errors.Wrap(err, "gate: enqueue execution"))
	}

	claimed, err := g.signals.Tag(ctx, ids, taskID)
	switch {
	case err != nil:
		logger.Warn("[GATE] inst:%d tag %d signals with %s: %v", inst.InstanceID, len(ids), taskID, err)
	case claimed < int64(len(ids)):
		// часть сигналов уже забрала другая задача (другой процесс)
		logger.Warn("[GATE] inst:%d task %s claimed %d of %d signals", inst.InstanceID, taskID, claimed, len(ids))
	}

	metrics.GateDecisions.WithLabelValues(string(DecisionRun), ReasonQueued).Inc()
	logger.Info("[GATE] RUN inst:%d user:%d %s %s | task %s, %d signals",
		inst.InstanceID, inst.UserID, strategy.Symbol, side, taskID, len(ids))
	return Result{
		Decision:  DecisionRun,
		Reason:    ReasonQueued,
		Message:   "operation queued",
		Request:   req,
		SignalIDs: ids,
		Claimed:   claimed,
		TaskID:    taskID,
	}, nil
}

func (g *Gate) claimLock(instanceID int64, side models.Side) *sync.Mutex {
	i := uint64(instanceID) * 2
	if side == models.SideSell {
		i++
	}
	return &g.claims[i%claimStripes]
}

func (g *Gate) skip(reason, msg string) Result {
	metrics.GateDecisions.WithLabelValues(string(DecisionSkip), reason).Inc()
	return Result{Decision: DecisionSkip, Reason: reason, Message: msg}
}

func (g *Gate) fail(err error) (Result, error) {
	metrics.GateDecisions.WithLabelValues(string(DecisionError), ReasonUnavailable).Inc()
	return Result{Decision: DecisionError, Reason: ReasonUnavailable, Message: err.Error()}, err
}

// CheckInterval: история: последние max_simultaneous операций, новые первыми.
func CheckInterval(history []models.Operation, side models.Side, intervalMinutes float64, now time.Time) (ok bool, reason, msg string) {
	if len(history) == 0 {
		return true, "", ""
	}

	same := 0
	for _, op := range history {
		if op.Side == side {
			same++
		}
	}
	if same == len(history) {
		return false, ReasonSameSide,
			fmt.Sprintf("last %d operations are all %s", len(history), side)
	}

	last := history[0]
	if last.Side != side {
		return true, "", ""
	}
	if intervalMinutes == 0 {
		return true, "", ""
	}
	elapsed := now.Sub(last.ExecutedAt).Minutes()
	if elapsed >= intervalMinutes {
		return true, "", ""
	}
	return false, ReasonInterval,
		fmt.Sprintf("%.1f of %.1f minutes elapsed", elapsed, intervalMinutes)
}

type lane struct {
	symbol string
	side   models.Side
}

// CheckConditions группирует сигналы по (symbol, side) и возвращает id строк
// из групп, где различных индикаторов не меньше limit.
func CheckConditions(rows []models.SignalRow, limit int) ([]int64, bool) {
	if limit < 1 {
		limit = 1
	}

	indicators := make(map[lane]map[int64]struct{})
	members := make(map[lane][]int64)
	order := make([]lane, 0, 1)
	for _, r := range rows {
		k := lane{symbol: r.Symbol, side: r.Side}
		if _, seen := indicators[k]; !seen {
			indicators[k] = make(map[int64]struct{})
			order = append(order, k)
		}
		indicators[k][r.IndicatorID] = struct{}{}
		members[k] = append(members[k], r.ID)
	}

	var ids []int64
	for _, k := range order {
		if len(indicators[k]) >= limit {
			ids = append(ids, members[k]...)
		}
	}
	return ids, len(ids) > 0
}
