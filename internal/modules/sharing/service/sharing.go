package service

import (
	"context"
	"sync/atomic"

	"deux_backend/internal/metrics"
	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Subscribers interface {
	Subscribers(ctx context.Context, shareGroupID int64) ([]models.Subscriber, error)
}

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

type Summary struct {
	Subscribers int
	Sent        int
	Failed      int
}

// Sharer рассылает копию операции подписчикам группы.
type Sharer struct {
	subs        Subscribers
	publisher   brokersvc.Publisher
	tracer      Tracer
	concurrency int
}

func NewSharer(subs Subscribers, publisher brokersvc.Publisher, tracer Tracer, concurrency int) *Sharer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sharer{subs: subs, publisher: publisher, tracer: tracer, concurrency: concurrency}
}

// BuildRequest собирает запрос подписчика за один шаг: сторона, символ и
// сайзинг от инициатора, счёт и инстанс подписчика. Группы у копии нет.
func BuildRequest(sr models.SharingRequest, sub models.Subscriber) models.ExecutionRequest {
	sizing := sr.Sizing
	req := models.ExecutionRequest{
		UserID:     sub.UserID,
		APIKeyID:   sub.APIKeyID,
		ExchangeID: sub.ExchangeID,
		InstanceID: sub.InstanceID,
		Symbol:     sr.Symbol,
		Side:       sr.Side,
	}
	if sub.Cap.IsPositive() {
		switch sizing.Mode {
		case models.SizingFlatValue:
			if sub.Cap.LessThan(sizing.FlatValue) {
				sizing.FlatValue = sub.Cap
			}
		default:
			req.BalanceCap = sub.Cap
		}
	}
	req.Sizing = sizing
	return req
}

func (s *Sharer) Handle(ctx context.Context, t brokersvc.Task) error {
	var sr models.SharingRequest
	if err := t.Decode(&sr); err != nil {
		return errors.Wrap(err, "decode sharing request")
	}

	sum, err := s.FanOut(ctx, sr)
	if err != nil {
		s.tracer.Append(ctx, sr.TraceID, models.StageSharing, models.StageFailed, tracesvc.WithError(err))
		return err
	}
	status := models.StageCompleted
	if sum.Failed > 0 {
		status = models.StageFailed
	}
	s.tracer.Append(ctx, sr.TraceID, models.StageSharing, status,
		tracesvc.WithMetadata(map[string]any{
			"share_id":    sr.ShareGroupID,
			"subscribers": sum.Subscribers,
			"sent":        sum.Sent,
			"failed":      sum.Failed,
		}))
	return nil
}

// FanOut: ошибка одного подписчика считается и логируется, остальных не
// задерживает. Ошибкой возвращается только сбой чтения состава группы.
func (s *Sharer) FanOut(ctx context.Context, sr models.SharingRequest) (Summary, error) {
	subs, err := s.subs.Subscribers(ctx, sr.ShareGroupID)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "share %d: subscribers", sr.ShareGroupID)
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	total := 0
	for _, sub := range subs {
		if sub.UserID == sr.UserID {
			continue
		}
		total++
		req := BuildRequest(sr, sub)
		g.Go(func() error {
			if _, err := s.publisher.Publish(ctx, brokersvc.TaskExecuteOperation, req); err != nil {
				failed.Add(1)
				metrics.FanOut.WithLabelValues("failed").Inc()
				logger.Error("[SHARING] share %d: user %d inst %d: %v",
					sr.ShareGroupID, req.UserID, req.InstanceID, err)
				return nil
			}
			sent.Add(1)
			metrics.FanOut.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Subscribers: total, Sent: int(sent.Load()), Failed: int(failed.Load())}
	logger.Info("[SHARING] share %d %s %s: %d/%d sent, %d failed",
		sr.ShareGroupID, sr.Side, sr.Symbol, sum.Sent, sum.Subscribers, sum.Failed)
	return sum, nil
}
