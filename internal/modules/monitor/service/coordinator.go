package service

import (
	"context"
	"sync"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	gatesvc "deux_backend/internal/modules/gate/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Evaluator interface {
	Evaluate(ctx context.Context, instanceID, userID int64, side models.Side, traceID string) (gatesvc.Result, error)
}

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

// Key: один монитор на инстанс и сторону.
type Key struct {
	InstanceID int64
	Side       models.Side
}

type handle struct {
	req     models.GateRequest
	stop    chan struct{}
	once    sync.Once
	armedAt time.Time
}

func (h *handle) signal() {
	h.once.Do(func() { close(h.stop) })
}

// Coordinator владеет всеми мониторами: запуск, остановка, дренаж при выключении.
type Coordinator struct {
	eval        Evaluator
	tracer      Tracer
	period      time.Duration
	maxLifetime time.Duration

	mu      sync.Mutex
	loops   map[Key]*handle
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewCoordinator(eval Evaluator, tracer Tracer, period, maxLifetime time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		eval:        eval,
		tracer:      tracer,
		period:      period,
		maxLifetime: maxLifetime,
		loops:       make(map[Key]*handle),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Arm запускает монитор, если для ключа его ещё нет. false: уже взведён
// или координатор остановлен.
func (c *Coordinator) Arm(req models.GateRequest) bool {
	key := Key{InstanceID: req.InstanceID, Side: req.Side}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, running := c.loops[key]; running {
		return false
	}

	h := &handle{req: req, stop: make(chan struct{}), armedAt: time.Now()}
	c.loops[key] = h
	metrics.ArmedMonitors.Set(float64(len(c.loops)))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(key, h)

		c.mu.Lock()
		if c.loops[key] == h {
			delete(c.loops, key)
		}
		metrics.ArmedMonitors.Set(float64(len(c.loops)))
		c.mu.Unlock()
	}()
	return true
}

// Disarm просит монитор остановиться; он выйдет в пределах одного периода.
func (c *Coordinator) Disarm(key Key) bool {
	c.mu.Lock()
	h, ok := c.loops[key]
	if ok {
		delete(c.loops, key)
		metrics.ArmedMonitors.Set(float64(len(c.loops)))
	}
	c.mu.Unlock()

	if ok {
		h.signal()
	}
	return ok
}

// DisarmInstance гасит мониторы обеих сторон инстанса.
func (c *Coordinator) DisarmInstance(instanceID int64) int {
	n := 0
	for _, side := range []models.Side{models.SideBuy, models.SideSell} {
		if c.Disarm(Key{InstanceID: instanceID, Side: side}) {
			n++
		}
	}
	return n
}

func (c *Coordinator) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loops)
}

func (c *Coordinator) IsArmed(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loops[key]
	return ok
}

func (c *Coordinator) run(key Key, h *handle) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	expires := time.Now().Add(c.maxLifetime)
	deadline := time.NewTimer(c.maxLifetime)
	defer deadline.Stop()

	log := []zap.Field{
		zap.Int64("instance_id", key.InstanceID),
		zap.String("side", string(key.Side)),
		zap.String("trace_id", h.req.TraceID),
	}

	// остановка и истёкший срок важнее тика, даже если готовы одновременно
	over := func() bool {
		select {
		case <-h.stop:
			logger.Infow("[MONITOR] stopped", log...)
			return true
		default:
		}
		if !time.Now().Before(expires) {
			logger.Infow("[MONITOR] lifetime exceeded", append(log, zap.Duration("lifetime", c.maxLifetime))...)
			return true
		}
		return false
	}

	for {
		select {
		case <-h.stop:
		case <-deadline.C:
		case <-ticker.C:
		}
		if over() {
			return
		}

		res, err := c.eval.Evaluate(c.baseCtx, key.InstanceID, h.req.UserID, key.Side, h.req.TraceID)
		if err != nil {
			logger.Errorw("[MONITOR] evaluate failed", append(log, zap.Error(err))...)
			return
		}

		switch {
		case res.Decision == gatesvc.DecisionRun:
			c.tracer.Append(c.baseCtx, h.req.TraceID, models.StageWebhookProcessor, models.StageCompleted,
				tracesvc.WithMetadata(map[string]any{
					"source":         "monitor",
					"execution_task": res.TaskID,
					"waited_seconds": int(time.Since(h.armedAt).Seconds()),
				}))
			logger.Infow("[MONITOR] gate passed", append(log, zap.String("task_id", res.TaskID))...)
			return
		case res.Reason != gatesvc.ReasonInterval:
			logger.Infow("[MONITOR] released", append(log, zap.String("reason", res.Reason))...)
			return
		}
	}
}

// Stop выставляет флаги всем мониторам и ждёт их выхода в пределах ctx.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	handles := make([]*handle, 0, len(c.loops))
	for k, h := range c.loops {
		handles = append(handles, h)
		delete(c.loops, k)
	}
	metrics.ArmedMonitors.Set(0)
	c.mu.Unlock()

	for _, h := range handles {
		h.signal()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	defer c.cancel()
	select {
	case <-done:
		logger.Info("[MONITOR] drained %d monitors", len(handles))
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "monitor drain")
	}
}
