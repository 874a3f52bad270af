package pg

import (
	"context"
	"fmt"

	"deux_backend/internal/models"
	"deux_backend/internal/modules/trace/service"
	"deux_backend/pkg/db"

	"github.com/bytedance/sonic"
)

type TraceStore struct {
	tx db.TxManager
}

var _ service.Store = (*TraceStore)(nil)

func NewTraceStore(tx db.TxManager) *TraceStore {
	return &TraceStore{tx: tx}
}

const insertTrace = `
INSERT INTO signal_traces (trace_id, pattern, action, signal_key_suffix, stages, current_stage, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $7)`

func (s *TraceStore) Create(ctx context.Context, tr models.Trace) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TraceStore.Create: %w", err)
		}
	}()

	stages, err := sonic.Marshal(tr.Stages)
	if err != nil {
		return err
	}
	_, err = s.tx.Conn().Exec(ctx, insertTrace,
		tr.TraceID, string(tr.Pattern), string(tr.Action), tr.SignalKeySuffix,
		string(stages), tr.CurrentStage, tr.CreatedAt,
	)
	return err
}

// final_status перезаписывается каждым терминальным вызовом: побеждает последний.
const appendStage = `
UPDATE signal_traces SET
	stages        = stages || $2::jsonb,
	current_stage = $3,
	updated_at    = $4,
	final_status  = COALESCE($5, final_status),
	completed_at  = COALESCE($6, completed_at),
	error_message = COALESCE($7, error_message),
	user_id       = COALESCE($8, user_id),
	instance_id   = COALESCE($9, instance_id),
	symbol        = COALESCE($10, symbol)
WHERE trace_id = $1`

func (s *TraceStore) Append(ctx context.Context, traceID string, entry models.StageEntry, upd service.Update) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TraceStore.Append: %w", err)
		}
	}()

	stage, err := sonic.Marshal([]models.StageEntry{entry})
	if err != nil {
		return err
	}

	var final, errMsg, symbol *string
	if upd.Final != nil {
		v := string(*upd.Final)
		final = &v
	}
	if upd.ErrorMessage != "" {
		errMsg = &upd.ErrorMessage
	}
	if upd.Correlation.Symbol != "" {
		symbol = &upd.Correlation.Symbol
	}

	tag, err := s.tx.Conn().Exec(ctx, appendStage,
		traceID, string(stage), upd.CurrentStage, entry.Timestamp,
		final, upd.CompletedAt, errMsg,
		upd.Correlation.UserID, upd.Correlation.InstanceID, symbol,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trace %s: %w", traceID, models.ErrNotFound)
	}
	return nil
}
