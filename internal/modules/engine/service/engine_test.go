package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	exsvc "deux_backend/internal/modules/exchange/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/retry"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	mu        sync.Mutex
	balances  map[string][]decimal.Decimal // последовательные ответы по валюте
	orders    []exsvc.OrderRequest
	raw       []byte
	placeErrs []error
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) PlaceOrder(_ context.Context, req exsvc.OrderRequest) (exsvc.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return exsvc.OrderResponse{}, err
		}
	}
	f.orders = append(f.orders, req)
	return exsvc.OrderResponse{OrderID: "ord-1", Raw: f.raw}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeExchange) GetOrderStatus(context.Context, string, string) (exsvc.OrderStatus, error) {
	return exsvc.OrderStatus{}, nil
}

func (f *fakeExchange) GetBalance(_ context.Context, ccy string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.balances[ccy]
	if len(seq) == 0 {
		return decimal.Zero, nil
	}
	v := seq[0]
	if len(seq) > 1 {
		f.balances[ccy] = seq[1:]
	}
	return v, nil
}

func (f *fakeExchange) GetLastTrade(context.Context, string) (exsvc.Trade, error) {
	return exsvc.Trade{}, nil
}

type fakeRegistry struct {
	ex  exsvc.Exchange
	err error
}

func (r fakeRegistry) Resolve(context.Context, int64, int64, int64) (exsvc.Exchange, error) {
	return r.ex, r.err
}

type fakeLedger struct {
	pos models.OpenPosition
}

func (l fakeLedger) OpenPosition(context.Context, int64, int64, string) (models.OpenPosition, error) {
	return l.pos, nil
}

func newTestEngine(ex *fakeExchange, pos models.OpenPosition) *Engine {
	e := NewEngine(fakeRegistry{ex: ex}, fakeLedger{pos: pos}, Config{
		PlaceOrderRetry: retry.Policy{Attempts: 3, Multiplier: 2, Min: 2 * time.Second, Max: 10 * time.Second},
		BalanceRetry:    retry.Policy{Attempts: 2, Multiplier: 1, Min: time.Second, Max: 5 * time.Second},
	})
	e.retrier.NewTimer = func() backoff.Timer { return &instantTimer{} }
	return e
}

// instantTimer: паузы ретраев без реального ожидания.
type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func execReq(side models.Side, sizing models.Sizing) models.ExecutionRequest {
	return models.ExecutionRequest{
		UserID: 1, APIKeyID: 2, ExchangeID: 3, InstanceID: 4,
		Symbol: "BTC-USDT", Side: side, Sizing: sizing,
	}
}

func TestSellCappedByBalance(t *testing.T) {
	ex := &fakeExchange{balances: map[string][]decimal.Decimal{"BTC": {d("3")}}}
	e := newTestEngine(ex, models.OpenPosition{Total: d("5"), EntryIDs: []int64{10, 11}})

	res := e.Execute(context.Background(), execReq(models.SideSell, models.Sizing{}))
	require.Equal(t, models.OpSuccess, res.Status)
	assert.True(t, res.Accepted)
	require.Len(t, ex.orders, 1)
	assert.True(t, d("3").Equal(ex.orders[0].Size))
	assert.Equal(t, "BTC", ex.orders[0].SizeCurrency)
	assert.Equal(t, []int64{10, 11}, res.ClosedEntryIDs)
	assert.False(t, res.ExecutedAt.IsZero())
}

func TestSellWithoutPosition(t *testing.T) {
	ex := &fakeExchange{}
	e := newTestEngine(ex, models.OpenPosition{Total: decimal.Zero})

	res := e.Execute(context.Background(), execReq(models.SideSell, models.Sizing{}))
	assert.Equal(t, models.OpNoPosition, res.Status)
	assert.Contains(t, res.Message, models.ErrNoOpenPosition.Error())
	assert.False(t, res.Accepted)
	assert.Empty(t, ex.orders)
}

func TestSellZeroBalanceIsNoop(t *testing.T) {
	ex := &fakeExchange{balances: map[string][]decimal.Decimal{"BTC": {decimal.Zero}}}
	e := newTestEngine(ex, models.OpenPosition{Total: d("1"), EntryIDs: []int64{1}})

	res := e.Execute(context.Background(), execReq(models.SideSell, models.Sizing{}))
	assert.Equal(t, models.OpSuccess, res.Status)
	assert.False(t, res.Accepted)
	assert.Empty(t, ex.orders)
}

func TestFlatBuyInsufficientBalance(t *testing.T) {
	ex := &fakeExchange{balances: map[string][]decimal.Decimal{"USDT": {d("50")}}}
	e := newTestEngine(ex, models.OpenPosition{})

	res := e.Execute(context.Background(), execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingFlatValue, FlatValue: d("100")}))
	assert.Equal(t, models.OpInsufficientBalance, res.Status)
	assert.Contains(t, res.Message, models.ErrInsufficientBalance.Error())
	assert.Empty(t, ex.orders)
}

func TestPercentageBuyUsesFillFromResponse(t *testing.T) {
	ex := &fakeExchange{
		balances: map[string][]decimal.Decimal{"USDT": {d("200")}, "BTC": {d("1")}},
		raw:      []byte(`{"orderId":1,"executedQty":"0.002"}`),
	}
	e := newTestEngine(ex, models.OpenPosition{})

	res := e.Execute(context.Background(), execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingPercentage, Percent: d("25")}))
	require.Equal(t, models.OpSuccess, res.Status)
	require.Len(t, ex.orders, 1)
	assert.True(t, d("50").Equal(ex.orders[0].Size))
	assert.Equal(t, "USDT", ex.orders[0].SizeCurrency)
	assert.True(t, d("0.002").Equal(res.FilledBaseQty))
	assert.JSONEq(t, `{"orderId":1,"executedQty":"0.002"}`, string(res.OrderResponse))
}

func TestBuyFallsBackToBalanceDiff(t *testing.T) {
	ex := &fakeExchange{
		balances: map[string][]decimal.Decimal{"USDT": {d("100")}, "BTC": {d("1"), d("1.5")}},
		raw:      []byte(`{"code":"0","data":[{"ordId":"1"}]}`),
	}
	e := newTestEngine(ex, models.OpenPosition{})

	res := e.Execute(context.Background(), execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingPercentage, Percent: d("0.5")}))
	require.True(t, res.Accepted)
	assert.True(t, d("0.5").Equal(res.FilledBaseQty))
}

func TestBuyBalanceCap(t *testing.T) {
	ex := &fakeExchange{balances: map[string][]decimal.Decimal{"USDT": {d("1000")}}}
	e := newTestEngine(ex, models.OpenPosition{})

	req := execReq(models.SideBuy, models.Sizing{Mode: models.SizingPercentage, Percent: d("0.5")})
	req.BalanceCap = d("40")
	e.Execute(context.Background(), req)
	require.Len(t, ex.orders, 1)
	assert.True(t, d("20").Equal(ex.orders[0].Size))
}

func TestPlaceOrderRetriesThenSucceeds(t *testing.T) {
	boom := errors.New("timeout")
	ex := &fakeExchange{
		balances:  map[string][]decimal.Decimal{"USDT": {d("100")}},
		placeErrs: []error{boom, boom},
	}
	e := newTestEngine(ex, models.OpenPosition{})
	var waits []time.Duration
	e.retrier.OnRetry = func(_ int, _ error, w time.Duration) { waits = append(waits, w) }

	res := e.Execute(context.Background(), execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingFlatValue, FlatValue: d("10")}))
	assert.Equal(t, models.OpSuccess, res.Status)
	assert.Len(t, ex.orders, 1)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestPlaceOrderExhaustedIsError(t *testing.T) {
	boom := errors.New("rejected")
	ex := &fakeExchange{
		balances:  map[string][]decimal.Decimal{"USDT": {d("100")}},
		placeErrs: []error{boom, boom, boom},
	}
	e := newTestEngine(ex, models.OpenPosition{})

	res := e.Execute(context.Background(), execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingFlatValue, FlatValue: d("10")}))
	assert.Equal(t, models.OpError, res.Status)
	assert.Contains(t, res.Message, "rejected")
	assert.Contains(t, res.Message, "after 3 attempts")
	assert.Contains(t, res.Message, models.ErrTransientExchange.Error())
	assert.Contains(t, res.Message, models.ErrPermanent.Error())
	assert.Empty(t, ex.orders)
}

func TestBadSymbolIsError(t *testing.T) {
	e := newTestEngine(&fakeExchange{}, models.OpenPosition{})
	req := execReq(models.SideBuy, models.Sizing{})
	req.Symbol = "BTCUSDT"
	assert.Equal(t, models.OpError, e.Execute(context.Background(), req).Status)
}

type stubExecutor struct {
	res models.OperationResult
}

func (s stubExecutor) Execute(context.Context, models.ExecutionRequest) models.OperationResult {
	return s.res
}

type recPublisher struct {
	tasks []string
}

func (p *recPublisher) Publish(_ context.Context, task string, _ any, _ ...brokersvc.PublishOption) (string, error) {
	p.tasks = append(p.tasks, task)
	return "id", nil
}

type nopTracer struct{}

func (nopTracer) Append(context.Context, string, string, models.StageStatus, ...tracesvc.Option) {}

func execTask(t *testing.T, req models.ExecutionRequest) brokersvc.Task {
	t.Helper()
	body, err := sonic.Marshal(req)
	require.NoError(t, err)
	return brokersvc.Task{ID: "x", Name: brokersvc.TaskExecuteOperation, Body: body}
}

func TestWorkerPersistsAndFansOut(t *testing.T) {
	pub := &recPublisher{}
	w := NewWorker(stubExecutor{res: models.OperationResult{Status: models.OpSuccess, Accepted: true}},
		pub, nopTracer{}, nil, time.Second)

	share := int64(5)
	req := execReq(models.SideBuy, models.Sizing{})
	req.ShareGroupID = &share

	require.NoError(t, w.Handle(context.Background(), execTask(t, req)))
	assert.ElementsMatch(t, []string{brokersvc.TaskSaveOperation, brokersvc.TaskSharing}, pub.tasks)
}

func TestWorkerSkipsFanOutOnError(t *testing.T) {
	pub := &recPublisher{}
	w := NewWorker(stubExecutor{res: models.OperationResult{Status: models.OpError, Message: "down"}},
		pub, nopTracer{}, nil, time.Second)

	share := int64(5)
	req := execReq(models.SideBuy, models.Sizing{})
	req.ShareGroupID = &share

	assert.Error(t, w.Handle(context.Background(), execTask(t, req)))
	assert.Empty(t, pub.tasks)
}

func TestWorkerSubscriberCopyDoesNotFanOut(t *testing.T) {
	pub := &recPublisher{}
	w := NewWorker(stubExecutor{res: models.OperationResult{Status: models.OpSuccess, Accepted: true}},
		pub, nopTracer{}, nil, time.Second)

	require.NoError(t, w.Handle(context.Background(), execTask(t, execReq(models.SideBuy, models.Sizing{}))))
	assert.Equal(t, []string{brokersvc.TaskSaveOperation}, pub.tasks)
}

func TestPlaceOrderStopsOnCancelledContext(t *testing.T) {
	ex := &fakeExchange{
		balances:  map[string][]decimal.Decimal{"USDT": {d("100")}},
		placeErrs: []error{context.Canceled, nil},
	}
	e := newTestEngine(ex, models.OpenPosition{})
	attempts := 0
	e.retrier.OnRetry = func(int, error, time.Duration) { attempts++ }

	ctx, cancel := context.WithCancel(context.Background())
	e.exchanges = fakeRegistry{ex: cancellingExchange{fakeExchange: ex, cancel: cancel}}

	res := e.Execute(ctx, execReq(models.SideBuy,
		models.Sizing{Mode: models.SizingFlatValue, FlatValue: d("10")}))
	assert.Equal(t, models.OpError, res.Status)
	assert.Zero(t, attempts)
	assert.Empty(t, ex.orders)
}

// cancellingExchange отменяет контекст вызывающего на первой заявке.
type cancellingExchange struct {
	*fakeExchange
	cancel context.CancelFunc
}

func (c cancellingExchange) PlaceOrder(ctx context.Context, req exsvc.OrderRequest) (exsvc.OrderResponse, error) {
	c.cancel()
	return c.fakeExchange.PlaceOrder(ctx, req)
}
