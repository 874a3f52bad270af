package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deux_backend/internal/models"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
)

type StateStore struct {
	tx  db.TxManager
	now func() time.Time
}

func NewStateStore(tx db.TxManager) *StateStore {
	return &StateStore{tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

const selectState = `
SELECT is_panic_active, activated_at, stopped_instance_ids
FROM panic_states
WHERE user_id = $1`

// State: состояние паники. Нет строки: паника не активна.
func (s *StateStore) State(ctx context.Context, userID int64) (st models.PanicState, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.StateStore.State: %w", err)
		}
	}()

	st.UserID = userID
	err = s.tx.Conn().QueryRow(ctx, selectState, userID).
		Scan(&st.IsPanicActive, &st.ActivatedAt, &st.StoppedInstanceIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PanicState{UserID: userID}, nil
	}
	return st, err
}

const upsertState = `
INSERT INTO panic_states (user_id, is_panic_active, activated_at, stopped_instance_ids, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET is_panic_active      = EXCLUDED.is_panic_active,
    activated_at         = EXCLUDED.activated_at,
    stopped_instance_ids = EXCLUDED.stopped_instance_ids,
    updated_at           = EXCLUDED.updated_at`

func (s *StateStore) Save(ctx context.Context, st models.PanicState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.StateStore.Save: %w", err)
		}
	}()

	ids := st.StoppedInstanceIDs
	if ids == nil {
		ids = []int64{}
	}
	_, err = s.tx.Conn().Exec(ctx, upsertState, st.UserID, st.IsPanicActive, st.ActivatedAt, ids, s.now())
	return err
}

// Clear сбрасывает состояние в неактивное.
func (s *StateStore) Clear(ctx context.Context, userID int64) error {
	return s.Save(ctx, models.PanicState{UserID: userID})
}
