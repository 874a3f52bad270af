package service

import (
	"context"
	"testing"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKeys struct {
	mock.Mock
}

func (m *MockKeys) InstanceKey(ctx context.Context, key string) (models.KeyAuth, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(models.KeyAuth), args.Error(1)
}

func (m *MockKeys) UserKey(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

type publishCall struct {
	task    string
	payload any
	delay   time.Duration
}

type recPublisher struct {
	calls []publishCall
}

func (p *recPublisher) Publish(_ context.Context, task string, payload any, opts ...brokersvc.PublishOption) (string, error) {
	p.calls = append(p.calls, publishCall{task: task, payload: payload, delay: brokersvc.Countdown(opts...)})
	return "task-1", nil
}

type traceCall struct {
	stage  string
	status models.StageStatus
}

type recTracer struct {
	calls []traceCall
}

func (r *recTracer) Append(_ context.Context, _, stage string, st models.StageStatus, _ ...tracesvc.Option) {
	r.calls = append(r.calls, traceCall{stage, st})
}

func TestUnknownPatternRejected(t *testing.T) {
	keys, pub, tr := &MockKeys{}, &recPublisher{}, &recTracer{}
	r := NewRouter(keys, pub, tr)

	res := r.Route(context.Background(), models.SignalMessage{Key: "k", Pattern: "group", Action: models.ActionBuy, TraceID: "t"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "unknown pattern")
	assert.Empty(t, pub.calls)
	assert.Equal(t, []traceCall{{models.StageWebhookReceipt, models.StageFailed}}, tr.calls)
	keys.AssertNotCalled(t, "InstanceKey", mock.Anything, mock.Anything)
}

func TestActionPatternMismatchRejected(t *testing.T) {
	pub := &recPublisher{}
	r := NewRouter(&MockKeys{}, pub, &recTracer{})

	res := r.Route(context.Background(), models.SignalMessage{Key: "k", Pattern: models.PatternInstance, Action: models.ActionPanicStop})
	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, pub.calls)
}

func TestBadKeyRejected(t *testing.T) {
	keys := &MockKeys{}
	keys.On("InstanceKey", mock.Anything, "bad").Return(models.KeyAuth{}, models.ErrNotFound)
	pub := &recPublisher{}
	r := NewRouter(keys, pub, &recTracer{})

	res := r.Route(context.Background(), models.SignalMessage{Key: "bad", Pattern: models.PatternInstance, Action: models.ActionBuy})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "authentication failed")
	assert.Empty(t, pub.calls)
}

func TestInstanceSignalDispatchedToGate(t *testing.T) {
	keys := &MockKeys{}
	keys.On("InstanceKey", mock.Anything, "abcd1234").Return(models.KeyAuth{
		UserID: 1, InstanceID: 2, Symbol: "BTC-USDT", IndicatorID: 9,
	}, nil)
	pub, tr := &recPublisher{}, &recTracer{}
	r := NewRouter(keys, pub, tr)

	res := r.Route(context.Background(), models.SignalMessage{
		Key: "abcd1234", Pattern: models.PatternInstance, Action: models.ActionSell, TraceID: "t",
	})
	require.Equal(t, StatusQueued, res.Status)
	assert.Zero(t, res.Delay)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, brokersvc.TaskWebhookProcessor, pub.calls[0].task)
	assert.Zero(t, pub.calls[0].delay)

	req := pub.calls[0].payload.(models.GateRequest)
	assert.Equal(t, models.SideSell, req.Side)
	assert.Equal(t, int64(9), req.IndicatorID)
	assert.Equal(t, "t", req.TraceID)
	assert.Equal(t, []traceCall{{models.StageWebhookReceipt, models.StageCompleted}}, tr.calls)
}

func TestDelayedInstanceSignal(t *testing.T) {
	keys := &MockKeys{}
	keys.On("InstanceKey", mock.Anything, "k").Return(models.KeyAuth{UserID: 1, InstanceID: 2, DelaySeconds: 30}, nil)
	pub := &recPublisher{}

	res := NewRouter(keys, pub, &recTracer{}).Route(context.Background(),
		models.SignalMessage{Key: "k", Pattern: models.PatternInstance, Action: models.ActionBuy})
	require.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, 30*time.Second, res.Delay)
	assert.Equal(t, 30*time.Second, pub.calls[0].delay)
}

func TestUserActionDispatchedToPanic(t *testing.T) {
	keys := &MockKeys{}
	keys.On("UserKey", mock.Anything, "u").Return(int64(5), nil)
	pub := &recPublisher{}

	res := NewRouter(keys, pub, &recTracer{}).Route(context.Background(),
		models.SignalMessage{Key: "u", Pattern: models.PatternUser, Action: models.ActionResumeRestart})
	require.Equal(t, StatusQueued, res.Status)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, brokersvc.TaskPanic, pub.calls[0].task)
	assert.Equal(t, models.PanicRequest{UserID: 5, Action: models.ActionResumeRestart}, pub.calls[0].payload)
	keys.AssertExpectations(t)
}
