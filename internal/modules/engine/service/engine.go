package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deux_backend/internal/fill"
	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	exsvc "deux_backend/internal/modules/exchange/service"
	"deux_backend/pkg/logger"
	"deux_backend/pkg/retry"
	"deux_backend/pkg/tracing"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Exchanges interface {
	Resolve(ctx context.Context, exchangeID, userID, apiKeyID int64) (exsvc.Exchange, error)
}

type Ledger interface {
	OpenPosition(ctx context.Context, instanceID, userID int64, symbol string) (models.OpenPosition, error)
}

type Config struct {
	PlaceOrderRetry  retry.Policy
	BalanceRetry     retry.Policy
	ResolveFillPrice bool
	FillPricePoll    time.Duration
	FillPriceTimeout time.Duration
}

// Engine считает размер, ставит рыночный ордер и возвращает итог. Запись
// операции и изменение леджера делает воркер сохранения.
type Engine struct {
	exchanges Exchanges
	ledger    Ledger
	retrier   *retry.Retrier
	cfg       Config
	now       func() time.Time
}

func NewEngine(exchanges Exchanges, ledger Ledger, cfg Config) *Engine {
	r := retry.New()
	r.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("[ENGINE] attempt %d failed, retry in %s: %v", attempt, wait, err)
	}
	return &Engine{
		exchanges: exchanges,
		ledger:    ledger,
		retrier:   r,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SplitSymbol: "BTC-USDT" -> ("BTC", "USDT").
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Wrapf(models.ErrInvalidInput, "symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}

// Execute никогда не возвращает ошибку: сбой выражается статусом error.
func (e *Engine) Execute(ctx context.Context, req models.ExecutionRequest) (res models.OperationResult) {
	start := time.Now()
	traceID := req.TraceID
	if traceID == "" {
		// копии подписчиков и ликвидации идут без своего трейса
		traceID = tracing.TraceID(ctx)
	}
	fields := []zap.Field{
		zap.Int64("exchange_id", req.ExchangeID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("instance_id", req.InstanceID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("trace_id", traceID),
	}
	logger.Infow("[ENGINE] execution started", fields...)

	exName := "unknown"
	defer func() {
		d := time.Since(start)
		metrics.Orders.WithLabelValues(exName, string(req.Side), string(res.Status)).Inc()
		metrics.OrderDuration.WithLabelValues(exName, string(req.Side)).Observe(d.Seconds())
		end := append(fields,
			zap.String("exchange", exName),
			zap.String("status", string(res.Status)),
			zap.String("size", res.Size.String()),
			zap.Duration("duration", d),
		)
		if res.Status == models.OpError {
			logger.Errorw("[ENGINE] execution finished", append(end, zap.String("error", res.Message))...)
			return
		}
		logger.Infow("[ENGINE] execution finished", end...)
	}()

	base, quote, err := SplitSymbol(req.Symbol)
	if err != nil {
		return failed(err)
	}
	ex, err := e.exchanges.Resolve(ctx, req.ExchangeID, req.UserID, req.APIKeyID)
	if err != nil {
		return failed(errors.Wrap(err, "resolve exchange"))
	}
	exName = ex.Name()

	switch req.Side {
	case models.SideSell:
		return e.sell(ctx, ex, req, base)
	case models.SideBuy:
		return e.buy(ctx, ex, req, base, quote)
	}
	return failed(errors.Wrapf(models.ErrInvalidInput, "side %q", req.Side))
}

func (e *Engine) sell(ctx context.Context, ex exsvc.Exchange, req models.ExecutionRequest, base string) models.OperationResult {
	// 1) открытая позиция по леджеру
	pos, err := e.ledger.OpenPosition(ctx, req.InstanceID, req.UserID, req.Symbol)
	if err != nil {
		return failed(err)
	}
	if !pos.Total.IsPositive() {
		return models.OperationResult{
			Status:       models.OpNoPosition,
			Message:      errors.Wrapf(models.ErrNoOpenPosition, "instance %d %s", req.InstanceID, req.Symbol).Error(),
			Currency:     base,
			BaseCurrency: base,
		}
	}

	// 2) баланс ограничивает продажу, если леджер разошёлся с биржей
	balance, err := e.balance(ctx, ex, base)
	if err != nil {
		return failed(err)
	}
	size := decimal.Min(pos.Total, balance)
	if !size.IsPositive() {
		return noop(base, base, "nothing to sell")
	}

	resp, err := e.place(ctx, ex, exsvc.OrderRequest{
		Symbol: req.Symbol, Side: models.SideSell, Size: size, SizeCurrency: base,
	})
	if err != nil {
		return failed(err)
	}

	filled := fill.FilledBaseQty(resp.Raw)
	if !filled.IsPositive() {
		filled = size
	}
	res := e.accepted(ctx, ex, req.Symbol, resp, size, base, base)
	res.FilledBaseQty = filled
	res.ClosedEntryIDs = pos.EntryIDs
	return res
}

func (e *Engine) buy(ctx context.Context, ex exsvc.Exchange, req models.ExecutionRequest, base, quote string) models.OperationResult {
	balance, err := e.balance(ctx, ex, quote)
	if err != nil {
		return failed(err)
	}

	var size decimal.Decimal
	switch req.Sizing.Mode {
	case models.SizingFlatValue:
		size = req.Sizing.FlatValue
		if balance.LessThan(size) {
			return models.OperationResult{
				Status:       models.OpInsufficientBalance,
				Message:      errors.Wrapf(models.ErrInsufficientBalance, "%s balance %s < %s", quote, balance, size).Error(),
				Size:         size,
				Currency:     quote,
				BaseCurrency: base,
			}
		}
	default:
		avail := balance
		if req.BalanceCap.IsPositive() && avail.GreaterThan(req.BalanceCap) {
			avail = req.BalanceCap
		}
		size = avail.Mul(req.Sizing.Fraction()).Truncate(8)
	}
	if !size.IsPositive() {
		return noop(quote, base, "size is zero")
	}

	// снимок базы до ордера для учёта по разнице балансов
	pre, preErr := e.balance(ctx, ex, base)

	resp, err := e.place(ctx, ex, exsvc.OrderRequest{
		Symbol: req.Symbol, Side: models.SideBuy, Size: size, SizeCurrency: quote,
	})
	if err != nil {
		return failed(err)
	}

	filled := fill.FilledBaseQty(resp.Raw)
	if !filled.IsPositive() && preErr == nil {
		post, err := e.balance(ctx, ex, base)
		if err != nil {
			logger.Warn("[ENGINE] post-trade %s balance: %v", base, err)
		} else if diff := post.Sub(pre); diff.IsPositive() {
			filled = diff
		}
	}
	if !filled.IsPositive() {
		logger.Warn("[ENGINE] order %s: filled base qty unknown, no ledger entry", resp.OrderID)
		filled = decimal.Zero
	}

	res := e.accepted(ctx, ex, req.Symbol, resp, size, quote, base)
	res.FilledBaseQty = filled
	return res
}

func (e *Engine) accepted(ctx context.Context, ex exsvc.Exchange, symbol string, resp exsvc.OrderResponse, size decimal.Decimal, ccy, base string) models.OperationResult {
	res := models.OperationResult{
		Status:        models.OpSuccess,
		Accepted:      true,
		Size:          size,
		Currency:      ccy,
		BaseCurrency:  base,
		OrderID:       resp.OrderID,
		OrderResponse: fill.Sanitize(resp.Raw),
		ExecutedAt:    e.now(),
	}
	if e.cfg.ResolveFillPrice && resp.OrderID != "" {
		res.FillPrice = exsvc.WaitForFillPrice(ctx, ex, symbol, resp.OrderID, e.cfg.FillPricePoll, e.cfg.FillPriceTimeout)
	}
	return res
}

func (e *Engine) balance(ctx context.Context, ex exsvc.Exchange, ccy string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.retrier.Do(ctx, e.cfg.BalanceRetry, func(ctx context.Context) error {
		v, err := ex.GetBalance(ctx, ccy)
		if err != nil {
			return transient(ctx, err)
		}
		out = v
		return nil
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(models.ErrPermanent, "%s balance after %d attempts: %v",
			ccy, e.cfg.BalanceRetry.Attempts, err)
	}
	return out, nil
}

func (e *Engine) place(ctx context.Context, ex exsvc.Exchange, req exsvc.OrderRequest) (exsvc.OrderResponse, error) {
	var out exsvc.OrderResponse
	err := e.retrier.Do(ctx, e.cfg.PlaceOrderRetry, func(ctx context.Context) error {
		r, err := ex.PlaceOrder(ctx, req)
		if err != nil {
			return transient(ctx, err)
		}
		out = r
		return nil
	})
	if err != nil {
		return out, errors.Wrapf(models.ErrPermanent, "place %s %s %s after %d attempts: %v",
			req.Side, req.Size, req.Symbol, e.cfg.PlaceOrderRetry.Attempts, err)
	}
	return out, nil
}

// transient помечает сбой биржи как повторяемый. Отмена контекста не
// повторяется.
func transient(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	return fmt.Errorf("%w: %v", models.ErrTransientExchange, err)
}

func failed(err error) models.OperationResult {
	return models.OperationResult{Status: models.OpError, Message: err.Error()}
}

func noop(ccy, base, msg string) models.OperationResult {
	return models.OperationResult{
		Status:       models.OpSuccess,
		Message:      msg,
		Size:         decimal.Zero,
		Currency:     ccy,
		BaseCurrency: base,
	}
}
