package service

import (
	"context"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	feedsvc "deux_backend/internal/modules/pricefeed/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Prices interface {
	PriceAt(ctx context.Context, symbol string, at time.Time, window time.Duration) (decimal.Decimal, bool, error)
}

type Operations interface {
	SetPrice(ctx context.Context, operationID int64, price decimal.Decimal) error
}

type Config struct {
	MaxRetries    int
	BaseCountdown time.Duration
	Window        time.Duration
}

// Enricher дописывает цену исполнения по ленте сделок, если биржа её не
// отдала. Не нашли: перепланирует себя с экспоненциальной задержкой.
type Enricher struct {
	prices     Prices
	operations Operations
	publisher  brokersvc.Publisher
	cfg        Config
}

func NewEnricher(prices Prices, operations Operations, publisher brokersvc.Publisher, cfg Config) *Enricher {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Enricher{prices: prices, operations: operations, publisher: publisher, cfg: cfg}
}

// Backoff: задержка перед попыткой номер retries+1.
func (e *Enricher) Backoff(retries int) time.Duration {
	return e.cfg.BaseCountdown * time.Duration(1<<uint(retries))
}

func (e *Enricher) Handle(ctx context.Context, t brokersvc.Task) error {
	var req models.EnrichRequest
	if err := t.Decode(&req); err != nil {
		return errors.Wrap(err, "decode enrich request")
	}
	_, err := e.Enrich(ctx, req)
	return err
}

// Enrich возвращает true, если цена записана.
func (e *Enricher) Enrich(ctx context.Context, req models.EnrichRequest) (bool, error) {
	symbol := feedsvc.NormalizeSymbol(req.Symbol)
	price, found, err := e.prices.PriceAt(ctx, symbol, req.ExecutedAt, e.cfg.Window)
	if err != nil {
		return false, errors.Wrapf(err, "op %d: price lookup", req.OperationID)
	}

	if !found {
		if req.Retries >= e.cfg.MaxRetries {
			logger.Warn("[PRICE] op %d %s: no trade near %s after %d retries, giving up",
				req.OperationID, symbol, req.ExecutedAt.Format(time.RFC3339), req.Retries)
			return false, nil
		}
		wait := e.Backoff(req.Retries)
		next := req
		next.Retries++
		if _, err := e.publisher.Publish(ctx, brokersvc.TaskEnrichPrice, next, brokersvc.WithCountdown(wait)); err != nil {
			return false, errors.Wrapf(err, "op %d: reschedule", req.OperationID)
		}
		logger.Info("[PRICE] op %d %s: not yet, retry %d in %s", req.OperationID, symbol, next.Retries, wait)
		return false, nil
	}

	if err := e.operations.SetPrice(ctx, req.OperationID, price); err != nil {
		return false, err
	}
	logger.Info("[PRICE] op %d %s price %s", req.OperationID, symbol, price)
	return true, nil
}
