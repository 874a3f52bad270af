package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	tracesvc "deux_backend/internal/modules/trace/service"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstances struct {
	status  map[int64]models.InstanceStatus
	failSet int64
}

func (f *fakeInstances) RunningInstances(_ context.Context, userID int64) ([]models.Instance, error) {
	var out []models.Instance
	for id, st := range f.status {
		if st == models.InstanceRunning {
			out = append(out, models.Instance{InstanceID: id, UserID: userID, Status: st})
		}
	}
	return out, nil
}

func (f *fakeInstances) LiquidationTarget(_ context.Context, instanceID, _ int64) (models.LiquidationTarget, error) {
	return models.LiquidationTarget{APIKeyID: instanceID * 10, ExchangeID: 1, Symbol: "BTC-USDT"}, nil
}

func (f *fakeInstances) SetStatus(_ context.Context, instanceID, _ int64, st models.InstanceStatus) error {
	if instanceID == f.failSet {
		return errors.New("db down")
	}
	f.status[instanceID] = st
	return nil
}

type memStates struct {
	st map[int64]models.PanicState
}

func (m *memStates) State(_ context.Context, userID int64) (models.PanicState, error) {
	return m.st[userID], nil
}

func (m *memStates) Save(_ context.Context, st models.PanicState) error {
	m.st[st.UserID] = st
	return nil
}

func (m *memStates) Clear(_ context.Context, userID int64) error {
	delete(m.st, userID)
	return nil
}

type recPublisher struct {
	reqs []models.ExecutionRequest
}

func (p *recPublisher) Publish(_ context.Context, _ string, payload any, _ ...brokersvc.PublishOption) (string, error) {
	p.reqs = append(p.reqs, payload.(models.ExecutionRequest))
	return "t", nil
}

type recDisarmer struct {
	ids []int64
}

func (r *recDisarmer) DisarmInstance(id int64) int {
	r.ids = append(r.ids, id)
	return 1
}

type recTracer struct {
	statuses []models.StageStatus
}

func (r *recTracer) Append(_ context.Context, _, _ string, st models.StageStatus, _ ...tracesvc.Option) {
	r.statuses = append(r.statuses, st)
}

type fixture struct {
	inst   *fakeInstances
	states *memStates
	pub    *recPublisher
	dis    *recDisarmer
	tr     *recTracer
	c      *Controller
}

func newFixture() fixture {
	f := fixture{
		inst: &fakeInstances{status: map[int64]models.InstanceStatus{
			1: models.InstanceRunning,
			2: models.InstanceRunning,
			3: models.InstanceStopped,
		}},
		states: &memStates{st: map[int64]models.PanicState{}},
		pub:    &recPublisher{},
		dis:    &recDisarmer{},
		tr:     &recTracer{},
	}
	f.c = NewController(f.inst, f.states, f.pub, f.dis, nil, f.tr)
	return f
}

func TestStopLiquidatesAndStops(t *testing.T) {
	f := newFixture()

	res, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.SellOrdersSent)
	assert.Equal(t, 2, res.InstancesStopped)

	require.Len(t, f.pub.reqs, 2)
	for _, r := range f.pub.reqs {
		assert.Equal(t, models.SideSell, r.Side)
		assert.Equal(t, "1", r.Sizing.Fraction().String())
		assert.Nil(t, r.ShareGroupID)
	}
	assert.Equal(t, models.InstanceStopped, f.inst.status[1])
	assert.Equal(t, models.InstanceStopped, f.inst.status[2])
	assert.ElementsMatch(t, []int64{1, 2}, f.dis.ids)

	st := f.states.st[7]
	assert.True(t, st.IsPanicActive)
	assert.ElementsMatch(t, []int64{1, 2}, st.StoppedInstanceIDs)
}

func TestSecondStopIsSkipped(t *testing.T) {
	f := newFixture()

	_, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)
	sent := len(f.pub.reqs)

	res, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Len(t, f.pub.reqs, sent)
}

func TestConcurrentStopsLiquidateOnce(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	results := make([]models.PanicResult, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.c.Stop(context.Background(), 7)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	success := 0
	for _, r := range results {
		if r.Status == StatusSuccess {
			success++
			continue
		}
		assert.Equal(t, StatusSkipped, r.Status)
	}
	assert.Equal(t, 1, success)
	assert.Len(t, f.pub.reqs, 2)
}

func TestUsersSharingStripeDoNotDeadlock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// 7 и 7+userStripes попадают в одну полосу
	_, err := f.c.Stop(ctx, 7)
	require.NoError(t, err)
	res, err := f.c.Resume(ctx, 7+userStripes, false)
	require.NoError(t, err)
	assert.Equal(t, "panic not active", res.Message)
	assert.True(t, f.states.st[7].IsPanicActive)

	res, err = f.c.Resume(ctx, 7, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, f.states.st[7].IsPanicActive)
}

func TestStopIsolatesInstanceFailures(t *testing.T) {
	f := newFixture()
	f.inst.failSet = 2

	res, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SellOrdersSent)
	assert.Equal(t, 1, res.InstancesStopped)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, []int64{1}, f.states.st[7].StoppedInstanceIDs)
}

func TestResumeRestartRunsStoppedOnly(t *testing.T) {
	f := newFixture()
	_, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)

	res, err := f.c.Resume(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.InstancesRestarted)
	assert.Equal(t, models.InstanceRunning, f.inst.status[1])
	assert.Equal(t, models.InstanceStopped, f.inst.status[3])
	assert.False(t, f.states.st[7].IsPanicActive)
}

func TestResumeNoRestartClearsOnly(t *testing.T) {
	f := newFixture()
	_, err := f.c.Stop(context.Background(), 7)
	require.NoError(t, err)

	res, err := f.c.Resume(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Zero(t, res.InstancesRestarted)
	assert.Equal(t, models.InstanceStopped, f.inst.status[1])
	assert.False(t, f.states.st[7].IsPanicActive)
}

func TestResumeInactiveIsNoop(t *testing.T) {
	f := newFixture()
	res, err := f.c.Resume(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, models.InstanceStopped, f.inst.status[3])
}

func TestHandleTracesTerminal(t *testing.T) {
	f := newFixture()
	body, err := sonic.Marshal(models.PanicRequest{UserID: 7, Action: models.ActionPanicStop, TraceID: "tr"})
	require.NoError(t, err)

	require.NoError(t, f.c.Handle(context.Background(), brokersvc.Task{Body: body}))
	require.NoError(t, f.c.Handle(context.Background(), brokersvc.Task{Body: body}))
	assert.Equal(t, []models.StageStatus{
		models.StageStarted, models.StageCompleted,
		models.StageStarted, models.StageSkipped,
	}, f.tr.statuses)
}
