package service

import (
	"context"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Store interface {
	Insert(ctx context.Context, req models.ExecutionRequest, res models.OperationResult) (int64, error)
}

type Ledger interface {
	RecordEntry(ctx context.Context, operationID, instanceID, userID int64, symbol, baseCurrency string, qty decimal.Decimal) (int64, error)
	CloseEntries(ctx context.Context, ids []int64, sellOperationID int64) error
}

type Tracer interface {
	Append(ctx context.Context, traceID, stage string, status models.StageStatus, opts ...tracesvc.Option)
}

// Persister: обработчик trade.save_operation: строка операции, лоты
// леджера и задача на дообогащение цены.
type Persister struct {
	store     Store
	ledger    Ledger
	publisher brokersvc.Publisher
	tracer    Tracer
}

func NewPersister(store Store, ledger Ledger, publisher brokersvc.Publisher, tracer Tracer) *Persister {
	return &Persister{store: store, ledger: ledger, publisher: publisher, tracer: tracer}
}

func (p *Persister) Handle(ctx context.Context, t brokersvc.Task) error {
	var pr models.PersistRequest
	if err := t.Decode(&pr); err != nil {
		return errors.Wrap(err, "decode persist request")
	}

	id, err := p.Save(ctx, pr)
	if err != nil {
		p.tracer.Append(ctx, pr.Request.TraceID, models.StageSaveOperation, models.StageFailed,
			tracesvc.WithError(err), tracesvc.Terminal(models.StageFailed))
		return err
	}

	p.tracer.Append(ctx, pr.Request.TraceID, models.StageSaveOperation, models.StageCompleted,
		tracesvc.WithMetadata(map[string]any{"operation_id": id}),
		tracesvc.Terminal(models.StageCompleted))
	return nil
}

// Save пишет операцию и двигает леджер.
func (p *Persister) Save(ctx context.Context, pr models.PersistRequest) (int64, error) {
	req, res := pr.Request, pr.Result

	id, err := p.store.Insert(ctx, req, res)
	if err != nil {
		return 0, errors.Wrap(err, "save operation")
	}

	switch req.Side {
	case models.SideBuy:
		if res.FilledBaseQty.IsPositive() {
			if _, err := p.ledger.RecordEntry(ctx, id, req.InstanceID, req.UserID,
				req.Symbol, res.BaseCurrency, res.FilledBaseQty); err != nil {
				return id, err
			}
		} else {
			logger.Warn("[PERSIST] op %d: buy without filled qty, no ledger entry", id)
		}
	case models.SideSell:
		if err := p.ledger.CloseEntries(ctx, res.ClosedEntryIDs, id); err != nil {
			return id, err
		}
	}

	if res.FillPrice.IsZero() {
		enrich := models.EnrichRequest{OperationID: id, Symbol: req.Symbol, ExecutedAt: res.ExecutedAt}
		if _, err := p.publisher.Publish(ctx, brokersvc.TaskEnrichPrice, enrich,
			brokersvc.WithTraceID(req.TraceID)); err != nil {
			logger.Warn("[PERSIST] op %d: enqueue price enrichment: %v", id, err)
		}
	}

	logger.Info("[PERSIST] op %d saved | user:%d inst:%d %s %s size:%s %s",
		id, req.UserID, req.InstanceID, req.Symbol, req.Side, res.Size, res.Currency)
	return id, nil
}
