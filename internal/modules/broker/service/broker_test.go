package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	TraceID string `json:"trace_id"`
	N       int    `json:"n"`
}

func newTestBroker() *Broker {
	return New(nil, func(string) QueueConfig { return QueueConfig{Workers: 2, Buffer: 16} })
}

func TestPublishDeliversDecodedPayload(t *testing.T) {
	b := newTestBroker()
	got := make(chan payload, 1)
	b.Register("t.echo", "q", func(ctx context.Context, task Task) error {
		var p payload
		assert.NoError(t, task.Decode(&p))
		cur, ok := TaskFrom(ctx)
		assert.True(t, ok)
		assert.Equal(t, task.ID, cur.ID)
		got <- p
		return nil
	})
	b.Start()
	defer func() { _ = b.Stop(context.Background()) }()

	id, err := b.Publish(context.Background(), "t.echo", payload{TraceID: "abc", N: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case p := <-got:
		assert.Equal(t, payload{TraceID: "abc", N: 7}, p)
	case <-time.After(time.Second):
		t.Fatal("task was not delivered")
	}
}

func TestPublishUnknownTask(t *testing.T) {
	b := newTestBroker()
	_, err := b.Publish(context.Background(), "nope", payload{})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestCountdownDelaysDelivery(t *testing.T) {
	b := newTestBroker()
	delivered := make(chan time.Time, 1)
	b.Register("t.delay", "q", func(context.Context, Task) error {
		delivered <- time.Now()
		return nil
	})
	b.Start()
	defer func() { _ = b.Stop(context.Background()) }()

	start := time.Now()
	_, err := b.Publish(context.Background(), "t.delay", payload{}, WithCountdown(150*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Pending())

	select {
	case at := <-delivered:
		assert.GreaterOrEqual(t, at.Sub(start), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task was not delivered")
	}
	assert.Equal(t, 0, b.Pending())
}

func TestHandlerFailureDoesNotStopWorker(t *testing.T) {
	b := New(nil, func(string) QueueConfig { return QueueConfig{Workers: 1, Buffer: 4} })
	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	b.Register("t.flaky", "q", func(_ context.Context, task Task) error {
		defer wg.Done()
		var p payload
		_ = task.Decode(&p)
		calls.Add(1)
		switch p.N {
		case 0:
			return errors.New("boom")
		case 1:
			panic("kaboom")
		}
		return nil
	})
	b.Start()
	defer func() { _ = b.Stop(context.Background()) }()

	for i := 0; i < 3; i++ {
		_, err := b.Publish(context.Background(), "t.flaky", payload{N: i})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestStopDrainsAndRejects(t *testing.T) {
	b := New(nil, func(string) QueueConfig { return QueueConfig{Workers: 1, Buffer: 8} })
	var handled atomic.Int32
	b.Register("t.slow", "q", func(context.Context, Task) error {
		time.Sleep(10 * time.Millisecond)
		handled.Add(1)
		return nil
	})
	b.Start()

	for i := 0; i < 5; i++ {
		_, err := b.Publish(context.Background(), "t.slow", payload{N: i})
		require.NoError(t, err)
	}
	_, err := b.Publish(context.Background(), "t.slow", payload{}, WithCountdown(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))

	assert.Equal(t, int32(5), handled.Load())
	assert.Equal(t, 0, b.Pending())
	assert.False(t, b.Running())

	_, err = b.Publish(context.Background(), "t.slow", payload{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublishRacingStopNeverLosesAcceptedTask(t *testing.T) {
	for round := 0; round < 10; round++ {
		b := New(nil, func(string) QueueConfig { return QueueConfig{Workers: 2, Buffer: 4} })
		var handled atomic.Int64
		b.Register("t.count", "q", func(context.Context, Task) error {
			handled.Add(1)
			return nil
		})
		b.Start()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					_, err := b.Publish(context.Background(), "t.count", payload{})
					if err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
					accepted.Add(1)
				}
			}()
		}

		time.Sleep(2 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, b.Stop(ctx))
		cancel()
		wg.Wait()

		assert.Equal(t, accepted.Load(), handled.Load(), "round %d", round)
	}
}

func TestCountdownAfterStopIsRejected(t *testing.T) {
	b := newTestBroker()
	b.Register("t.late", "q", func(context.Context, Task) error { return nil })
	b.Start()
	require.NoError(t, b.Stop(context.Background()))

	_, err := b.Publish(context.Background(), "t.late", payload{}, WithCountdown(time.Millisecond))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, b.Pending())
}
