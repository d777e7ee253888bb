package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/engine"
	"github.com/quandohq/quando/pkg/models"
	"github.com/quandohq/quando/pkg/store"
)

// stubStore answers GetSchedulerMetrics and panics on anything else; the
// ops server reads nothing more from the store.
type stubStore struct {
	store.Store
	metrics func() (map[string]any, error)
}

func (s *stubStore) GetSchedulerMetrics(context.Context) (map[string]any, error) {
	if s.metrics != nil {
		return s.metrics()
	}
	return map[string]any{"activeJobs": float64(3)}, nil
}

func newTestServer(state *engine.State, st store.Store) *httptest.Server {
	if state == nil {
		state = engine.NewState()
	}
	if st == nil {
		st = &stubStore{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(state, st, &config.OpsConfig{Enabled: true, ListenAddr: ":0"}, logger)
	return httptest.NewServer(srv.Handler())
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(nil, nil)
	defer ts.Close()

	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["version"], "quando/")
}

func TestReadyz(t *testing.T) {
	t.Run("ready when the scheduling service answers", func(t *testing.T) {
		ts := newTestServer(nil, nil)
		defer ts.Close()

		var body map[string]string
		resp := getJSON(t, ts.URL+"/readyz", &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("unavailable when the store probe fails", func(t *testing.T) {
		st := &stubStore{metrics: func() (map[string]any, error) {
			return nil, errors.New("connection refused")
		}}
		ts := newTestServer(nil, st)
		defer ts.Close()

		var body map[string]string
		resp := getJSON(t, ts.URL+"/readyz", &body)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "unavailable", body["status"])
		assert.Contains(t, body["error"], "connection refused")
	})
}

func TestStatus(t *testing.T) {
	state := engine.NewState()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	state.MarkRunning(started)
	state.AddTokens(models.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140})
	state.FinishCycle(&engine.ProcessingResult{JobsProcessed: 5, SuccessfulJobs: 4, FailedJobs: 1}, started.Add(time.Minute))

	ts := newTestServer(state, nil)
	defer ts.Close()

	var body StatusResponse
	resp := getJSON(t, ts.URL+"/api/status", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, engine.StatusRunning, body.Engine.Status)
	require.NotNil(t, body.Engine.StartedAt)
	assert.WithinDuration(t, started, *body.Engine.StartedAt, 0)
	assert.Equal(t, int64(5), body.Engine.Stats.JobsProcessed)
	assert.Equal(t, int64(140), body.Engine.Stats.TokenUsage.TotalTokens)
	assert.Contains(t, body.Version, "quando/")
	assert.Equal(t, float64(3), body.Scheduler["activeJobs"])
}

func TestStatusWithoutSchedulerMetrics(t *testing.T) {
	st := &stubStore{metrics: func() (map[string]any, error) {
		return nil, errors.New("service down")
	}}
	ts := newTestServer(nil, st)
	defer ts.Close()

	var body StatusResponse
	resp := getJSON(t, ts.URL+"/api/status", &body)

	// The snapshot is still served; scheduler metrics are best-effort.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, engine.StatusStopped, body.Engine.Status)
	assert.Nil(t, body.Scheduler)
}

func TestProgress(t *testing.T) {
	state := engine.NewState()
	state.BeginCycle(3)
	state.JobCompleted()
	state.UpdateEndpointProgress("health", "retrying", 2, time.Now())

	ts := newTestServer(state, nil)
	defer ts.Close()

	var body engine.CycleProgress
	resp := getJSON(t, ts.URL+"/api/progress", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 1, body.Completed)
	require.Contains(t, body.Endpoints, "health")
	assert.Equal(t, "retrying", body.Endpoints["health"].Status)
	assert.Equal(t, 2, body.Endpoints["health"].Attempts)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "quando_cycles_total")
}

func TestStartAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(engine.NewState(), &stubStore{}, &config.OpsConfig{Enabled: true, ListenAddr: "127.0.0.1:0"}, logger)

	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
