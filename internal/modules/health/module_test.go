package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"deux_backend/internal/modules/health/service"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMuxEndpoints(t *testing.T) {
	state := service.NewState()
	var dbErr error
	state.AddProbe("database", func(context.Context) error { return dbErr })
	state.SetArmedCounter(func() int { return 2 })
	mux := NewMux(state)

	assert.Equal(t, http.StatusOK, get(mux, "/livez").Code)
	assert.Equal(t, http.StatusOK, get(mux, "/readyz").Code)

	dbErr = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, get(mux, "/readyz").Code)

	w := get(mux, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
		Armed  int               `json:"armedMonitors"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "down", body.Checks["database"])
	assert.Equal(t, 2, body.Armed)

	assert.Equal(t, http.StatusOK, get(mux, "/metrics").Code)
}
