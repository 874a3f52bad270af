package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy описывает экспоненциальный ретрай: пауза перед попыткой n+1 равна
// Multiplier * 2^(n-1) секунд, зажатая в [Min, Max]. Attempts считает все
// попытки, включая первую.
type Policy struct {
	Attempts   int           `yaml:"attempts"`
	Multiplier float64       `yaml:"multiplier"`
	Min        time.Duration `yaml:"min"`
	Max        time.Duration `yaml:"max"`
}

// BackOff собирает детерминированный ExponentialBackOff без джиттера и без
// ограничения по времени: число попыток режет WithMaxRetries.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	first := time.Duration(mult * float64(time.Second))
	if first < p.Min {
		first = p.Min
	}
	maxInterval := p.Max
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}
	if first > maxInterval {
		first = maxInterval
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     first,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (p Policy) retries() uint64 {
	if p.Attempts <= 1 {
		return 0
	}
	return uint64(p.Attempts - 1)
}

// Retrier гоняет функцию по политике. Последняя ошибка возвращается как есть,
// ошибка, обёрнутая в backoff.Permanent, прерывает повторы сразу.
type Retrier struct {
	// NewTimer подменяет таймер пауз (тесты). nil: обычный time.Timer.
	NewTimer func() backoff.Timer
	OnRetry  func(attempt int, err error, wait time.Duration)
}

func New() *Retrier {
	return &Retrier{}
}

func (r *Retrier) Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, wait)
		}
	}

	var t backoff.Timer
	if r.NewTimer != nil {
		t = r.NewTimer()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.BackOff(), p.retries()), ctx)
	return backoff.RetryNotifyWithTimer(op, b, notify, t)
}
