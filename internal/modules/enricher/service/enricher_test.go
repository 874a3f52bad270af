package service

import (
	"context"
	"testing"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	price  decimal.Decimal
	found  bool
	symbol string
}

func (f *fakePrices) PriceAt(_ context.Context, symbol string, _ time.Time, _ time.Duration) (decimal.Decimal, bool, error) {
	f.symbol = symbol
	return f.price, f.found, nil
}

type fakeOps struct {
	set map[int64]decimal.Decimal
}

func (f *fakeOps) SetPrice(_ context.Context, id int64, p decimal.Decimal) error {
	if f.set == nil {
		f.set = map[int64]decimal.Decimal{}
	}
	f.set[id] = p
	return nil
}

type published struct {
	task    string
	payload any
	wait    time.Duration
}

type recPublisher struct {
	out []published
}

func (p *recPublisher) Publish(_ context.Context, task string, payload any, opts ...brokersvc.PublishOption) (string, error) {
	p.out = append(p.out, published{task, payload, brokersvc.Countdown(opts...)})
	return "t", nil
}

var cfg = Config{MaxRetries: 3, BaseCountdown: 30 * time.Second, Window: 5 * time.Minute}

func TestEnrichWritesPrice(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(64000), found: true}
	ops := &fakeOps{}
	e := NewEnricher(prices, ops, &recPublisher{}, cfg)

	ok, err := e.Enrich(context.Background(), models.EnrichRequest{OperationID: 9, Symbol: "BTC-USDT"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", prices.symbol)
	assert.Equal(t, "64000", ops.set[9].String())
}

func TestEnrichReschedulesWithBackoff(t *testing.T) {
	pub := &recPublisher{}
	e := NewEnricher(&fakePrices{}, &fakeOps{}, pub, cfg)

	ok, err := e.Enrich(context.Background(), models.EnrichRequest{OperationID: 9, Symbol: "BTC-USDT", Retries: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, pub.out, 1)
	assert.Equal(t, brokersvc.TaskEnrichPrice, pub.out[0].task)
	assert.Equal(t, 2, pub.out[0].payload.(models.EnrichRequest).Retries)
	assert.Equal(t, 60*time.Second, pub.out[0].wait)

	assert.Equal(t, 30*time.Second, e.Backoff(0))
	assert.Equal(t, 60*time.Second, e.Backoff(1))
	assert.Equal(t, 240*time.Second, e.Backoff(3))
}

func TestEnrichGivesUpAfterMaxRetries(t *testing.T) {
	pub := &recPublisher{}
	ops := &fakeOps{}
	e := NewEnricher(&fakePrices{}, ops, pub, cfg)

	ok, err := e.Enrich(context.Background(), models.EnrichRequest{OperationID: 9, Symbol: "BTC-USDT", Retries: 3})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pub.out)
	assert.Empty(t, ops.set)
}
