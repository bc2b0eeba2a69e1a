package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/taxi-trip-etl/internal/adapter/http"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStages struct {
	result float64
	err    error
	ran    []string
}

func (m *mockStages) RunStage(_ context.Context, name string) (float64, error) {
	m.ran = append(m.ran, name)
	return m.result, m.err
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockStages{}, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("warehouse: connection refused"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "warehouse: connection refused", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStageTrigger(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "unknown stage", err: fmt.Errorf("%w: %q", domain.ErrUnknownStage, "deploy"), wantStatus: http.StatusNotFound, wantError: "unknown stage"},
		{name: "busy", err: domain.ErrStageRunning, wantStatus: http.StatusConflict, wantError: "already running"},
		{name: "stage failure", err: fmt.Errorf("%w: status 502", domain.ErrWeatherFetch), wantStatus: http.StatusInternalServerError, wantError: "weather fetch failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := &mockStages{result: 58, err: tt.err}
			srv := httpadapter.NewServer(":0", &mockReadiness{}, stages, slog.Default())
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/stages/enrich", nil)

			srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"enrich"}, stages.ran)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "enrich", body["stage"])
			if tt.wantError == "" {
				assert.Equal(t, "succeeded", body["status"])
				assert.InDelta(t, 58, body["result"], 0)
				return
			}
			assert.Contains(t, body["error"], tt.wantError)
		})
	}
}

func TestStageTriggerRequiresPost(t *testing.T) {
	stages := &mockStages{}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, stages, slog.Default())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stages/process", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, stages.ran)
}
