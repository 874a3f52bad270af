package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"deux_backend/internal/metrics"
	"deux_backend/pkg/logger"
	"deux_backend/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUnknownTask = errors.New("broker: unknown task")
	ErrClosed      = errors.New("broker: closed")
)

type Handler func(ctx context.Context, t Task) error

// Publisher: то, что нужно продюсерам.
type Publisher interface {
	Publish(ctx context.Context, task string, payload any, opts ...PublishOption) (string, error)
}

type QueueConfig struct {
	Workers int
	Buffer  int
}

type queue struct {
	name    string
	ch      chan Task
	workers int
}

type route struct {
	queue   string
	handler Handler
}

// Broker: именованные очереди внутри процесса: на каждую очередь N воркеров
// и буфер. Отложенные задачи держатся на таймерах.
type Broker struct {
	tracer  opentracing.Tracer
	queueFn func(name string) QueueConfig

	mu      sync.RWMutex
	queues  map[string]*queue
	routes  map[string]route
	timers  map[string]*time.Timer
	started bool
	closed  bool

	done    chan struct{}
	wg      sync.WaitGroup
	sends   sync.WaitGroup // отправки в каналы, начатые до Stop
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

var _ Publisher = (*Broker)(nil)

func New(tracer opentracing.Tracer, queueFn func(name string) QueueConfig) *Broker {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		tracer:  tracer,
		queueFn: queueFn,
		queues:  make(map[string]*queue),
		routes:  make(map[string]route),
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
		runCtx:  ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Register привязывает обработчик задачи к очереди. Очередь создаётся при
// первой регистрации; если брокер уже запущен, воркеры стартуют сразу.
func (b *Broker) Register(task, queueName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.routes[task] = route{queue: queueName, handler: h}
	if _, ok := b.queues[queueName]; ok {
		return
	}

	qc := QueueConfig{Workers: 1}
	if b.queueFn != nil {
		qc = b.queueFn(queueName)
	}
	if qc.Workers < 1 {
		qc.Workers = 1
	}
	q := &queue{name: queueName, ch: make(chan Task, qc.Buffer), workers: qc.Workers}
	b.queues[queueName] = q
	if b.started {
		b.spawn(q)
	}
}

func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	for _, q := range b.queues {
		b.spawn(q)
	}
	logger.Info("[BROKER] started: %d queues, %d tasks", len(b.queues), len(b.routes))
}

func (b *Broker) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started && !b.closed
}

func (b *Broker) spawn(q *queue) {
	for i := 0; i < q.workers; i++ {
		b.wg.Add(1)
		go b.work(q)
	}
}

func (b *Broker) work(q *queue) {
	defer b.wg.Done()
	for {
		select {
		case t := <-q.ch:
			b.dispatch(t)
		case <-b.done:
			// добираем буфер и выходим
			for {
				select {
				case t := <-q.ch:
					b.dispatch(t)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) Publish(ctx context.Context, task string, payload any, opts ...PublishOption) (string, error) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.RLock()
	r, ok := b.routes[task]
	closed := b.closed
	b.mu.RUnlock()
	if !ok {
		return "", errors.Wrap(ErrUnknownTask, task)
	}
	if closed {
		return "", ErrClosed
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return "", errors.Wrapf(err, "marshal %s payload", task)
	}

	t := Task{
		ID:      uuid.NewString(),
		Name:    task,
		Queue:   r.queue,
		TraceID: o.traceID,
		Body:    body,
	}

	if o.countdown > 0 {
		if err := b.schedule(t, o.countdown); err != nil {
			return "", err
		}
		return t.ID, nil
	}
	if err := b.enqueue(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// schedule ставит таймер под тем же замком, что и Stop: после Stop новых
// таймеров нет.
func (b *Broker) schedule(t Task, d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.timers[t.ID] = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, t.ID)
		b.mu.Unlock()

		if err := b.enqueue(b.runCtx, t); err != nil {
			logger.Errorw("[BROKER] delayed enqueue failed",
				zap.String("task", t.Name), zap.String("task_id", t.ID), zap.Error(err))
		}
	})
	return nil
}

// enqueue: проверка closed и регистрация отправки атомарны относительно
// Stop, а Stop закрывает done только после всех начатых отправок. Принятая
// задача всегда попадает в буфер до слива.
func (b *Broker) enqueue(ctx context.Context, t Task) error {
	b.mu.RLock()
	q := b.queues[t.Queue]
	if q == nil {
		b.mu.RUnlock()
		return errors.Wrap(ErrUnknownTask, t.Queue)
	}
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.sends.Add(1)
	b.mu.RUnlock()
	defer b.sends.Done()

	t.EnqueuedAt = time.Now()
	select {
	case q.ch <- t:
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "enqueue %s", t.Name)
	}
}

func (b *Broker) dispatch(t Task) {
	b.mu.RLock()
	r, ok := b.routes[t.Name]
	q := b.queues[t.Queue]
	b.mu.RUnlock()
	if q != nil {
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
	}
	if !ok {
		logger.Error("[BROKER] no handler for %s", t.Name)
		return
	}

	span := b.tracer.StartSpan(t.Name)
	span.SetTag("task.id", t.ID)
	span.SetTag("task.queue", t.Queue)
	if t.TraceID != "" {
		span.SetTag("pipeline.trace_id", t.TraceID)
	}
	defer span.Finish()

	ctx := opentracing.ContextWithSpan(b.runCtx, span)
	ctx = tracing.WithTraceID(ctx, t.TraceID)
	ctx = WithTask(ctx, t)

	start := time.Now()
	err := safeCall(ctx, r.handler, t)
	result := "ok"
	if err != nil {
		result = "error"
		ext.Error.Set(span, true)
		logger.Errorw("[BROKER] task failed",
			zap.String("task", t.Name),
			zap.String("task_id", t.ID),
			zap.String("trace_id", t.TraceID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
	metrics.Tasks.WithLabelValues(t.Name, result).Inc()
}

func safeCall(ctx context.Context, h Handler, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v\n%s", p, debug.Stack())
		}
	}()
	return h(ctx, t)
}

// Stop перестаёт принимать задачи, гасит таймеры и дожидается воркеров.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, tm := range b.timers {
		tm.Stop()
		delete(b.timers, id)
	}
	b.mu.Unlock()

	go func() {
		// воркеры ещё работают, поэтому начатые отправки не зависнут
		b.sends.Wait()
		close(b.done)
		b.wg.Wait()
		close(b.stopped)
	}()

	defer b.cancel()
	select {
	case <-b.stopped:
		logger.Info("[BROKER] stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "broker drain")
	}
}

// Pending: число отложенных задач, для health и тестов.
func (b *Broker) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.timers)
}

type taskKey struct{}

// WithTask кладёт текущую задачу в контекст обработчика.
func WithTask(ctx context.Context, t Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// TaskFrom возвращает задачу, внутри которой выполняется код.
func TaskFrom(ctx context.Context) (Task, bool) {
	t, ok := ctx.Value(taskKey{}).(Task)
	return t, ok
}
