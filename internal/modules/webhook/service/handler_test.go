package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTraces struct {
	pattern models.Pattern
	action  models.Action
}

func (f *fakeTraces) Start(_ context.Context, p models.Pattern, a models.Action, _ string) string {
	f.pattern, f.action = p, a
	return "0123456789abcdef0123456789abcdef"
}

type fakePublisher struct {
	err  error
	msgs []models.SignalMessage
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any, _ ...brokersvc.PublishOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, payload.(models.SignalMessage))
	return "t", nil
}

type fakeActivity struct {
	last time.Time
}

func (f *fakeActivity) TouchSignal(t time.Time) { f.last = t }

func serve(t *testing.T, pub *fakePublisher, body string, cfg Config) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(&fakeTraces{}, pub, &fakeActivity{})
	r := NewEngine(cfg, h)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveQueuesSignal(t *testing.T) {
	pub := &fakePublisher{}
	w := serve(t, pub, `{"key":"abcd1234","pattern":"instance","action":"BUY"}`, Config{})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "0123456789abcdef0123456789abcdef", resp["trace_id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, models.ActionBuy, pub.msgs[0].Action)
	assert.Equal(t, models.PatternInstance, pub.msgs[0].Pattern)
	assert.Equal(t, resp["trace_id"], pub.msgs[0].TraceID)
}

func TestReceiveSideAlias(t *testing.T) {
	pub := &fakePublisher{}
	w := serve(t, pub, `{"key":"k","pattern":"instance","side":"sell"}`, Config{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ActionSell, pub.msgs[0].Action)
}

func TestReceiveMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    `{key:`,
		"empty":       ``,
		"missing key": `{"pattern":"user","action":"panic_stop"}`,
		"no action":   `{"key":"k","pattern":"user"}`,
	} {
		t.Run(name, func(t *testing.T) {
			pub := &fakePublisher{}
			w := serve(t, pub, body, Config{})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, pub.msgs)
		})
	}
}

func TestReceivePublishFailure(t *testing.T) {
	w := serve(t, &fakePublisher{err: errors.New("broker closed")}, `{"key":"k","pattern":"user","action":"panic_stop"}`, Config{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "broker closed")
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(&fakeTraces{}, &fakePublisher{}, nil)
	r := NewEngine(Config{RateLimit: 1, Burst: 1}, h)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"key":"k","pattern":"user","action":"panic_stop"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
