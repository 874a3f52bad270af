package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"deux_backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	traces  map[string]*models.Trace
	failAll bool
	panicky bool
}

func newMemStore() *memStore {
	return &memStore{traces: make(map[string]*models.Trace)}
}

func (m *memStore) Create(_ context.Context, tr models.Trace) error {
	if m.panicky {
		panic("driver exploded")
	}
	if m.failAll {
		return errors.New("db down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[tr.TraceID] = &tr
	return nil
}

func (m *memStore) Append(_ context.Context, traceID string, entry models.StageEntry, upd Update) error {
	if m.panicky {
		panic("driver exploded")
	}
	if m.failAll {
		return errors.New("db down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.traces[traceID]
	if !ok {
		return models.ErrNotFound
	}
	tr.Stages = append(tr.Stages, entry)
	tr.CurrentStage = upd.CurrentStage
	if upd.Final != nil {
		tr.FinalStatus = upd.Final
		tr.CompletedAt = upd.CompletedAt
	}
	if upd.ErrorMessage != "" {
		tr.ErrorMessage = upd.ErrorMessage
	}
	if upd.Correlation.UserID != nil {
		tr.Correlation.UserID = upd.Correlation.UserID
	}
	return nil
}

func TestStartCreatesFirstStage(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)

	id := r.Start(context.Background(), models.PatternInstance, models.ActionBuy, "secret-key-abcd")
	require.Len(t, id, 32)

	tr := store.traces[id]
	require.NotNil(t, tr)
	assert.Equal(t, "abcd", tr.SignalKeySuffix)
	require.Len(t, tr.Stages, 1)
	assert.Equal(t, models.StageWebhookReceived, tr.Stages[0].Stage)
	assert.Equal(t, "buy", tr.Stages[0].Metadata["action"])
	assert.Nil(t, tr.FinalStatus)
}

func TestAppendAdvancesAndTerminates(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)
	ctx := context.Background()
	id := r.Start(ctx, models.PatternInstance, models.ActionSell, "k")

	uid := int64(9)
	r.Append(ctx, id, models.StageWebhookReceipt, models.StageCompleted,
		WithCorrelation(models.Correlation{UserID: &uid}))
	r.Append(ctx, id, models.StageWebhookProcessor, models.StageSkipped,
		WithMetadata(map[string]any{"reason": "interval"}), Terminal(models.StageSkipped))

	tr := store.traces[id]
	require.Len(t, tr.Stages, 3)
	assert.Equal(t, models.StageWebhookProcessor, tr.CurrentStage)
	require.NotNil(t, tr.FinalStatus)
	assert.Equal(t, models.StageSkipped, *tr.FinalStatus)
	assert.NotNil(t, tr.CompletedAt)
	assert.Equal(t, int64(9), *tr.Correlation.UserID)
}

func TestLastTerminalWriteWins(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store)
	ctx := context.Background()
	id := r.Start(ctx, models.PatternInstance, models.ActionBuy, "k")

	r.Append(ctx, id, models.StageTradeExecution, models.StageFailed,
		WithError(errors.New("rejected")), Terminal(models.StageFailed))
	r.Append(ctx, id, models.StageSharing, models.StageSkipped, Terminal(models.StageSkipped))

	assert.Equal(t, models.StageSkipped, *store.traces[id].FinalStatus)
	assert.Equal(t, "rejected", store.traces[id].ErrorMessage)
}

func TestAppendWithoutTraceIsNoop(t *testing.T) {
	store := newMemStore()
	store.panicky = true
	r := NewRecorder(store)
	assert.NotPanics(t, func() {
		r.Append(context.Background(), "", models.StageSharing, models.StageCompleted)
	})
}

func TestFaultsAreSwallowed(t *testing.T) {
	ctx := context.Background()

	failing := newMemStore()
	failing.failAll = true
	r := NewRecorder(failing)
	assert.Equal(t, "", r.Start(ctx, models.PatternUser, models.ActionPanicStop, "k"))
	assert.NotPanics(t, func() { r.Append(ctx, "abc", models.StagePanicProcessor, models.StageStarted) })

	exploding := newMemStore()
	exploding.panicky = true
	r = NewRecorder(exploding)
	assert.NotPanics(t, func() {
		assert.Equal(t, "", r.Start(ctx, models.PatternUser, models.ActionPanicStop, "k"))
		r.Append(ctx, "abc", models.StagePanicProcessor, models.StageStarted)
	})
}

func TestKeySuffix(t *testing.T) {
	assert.Equal(t, "abc", KeySuffix("abc"))
	assert.Equal(t, "wxyz", KeySuffix("0123wxyz"))
}
