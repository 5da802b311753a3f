package loadgen

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"webserver-bench/internal/config"
	"webserver-bench/internal/scenario"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, cfg config.ScenarioConfig) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Compile(cfg)
	require.NoError(t, err)
	return sc
}

func helloServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(scenario.DefaultPlainTextBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func plainText(concurrency int, requests int64) config.ScenarioConfig {
	return config.ScenarioConfig{
		ID:          "plain",
		Kind:        config.KindPlainText,
		Path:        "/benchmark/plain-text",
		Concurrency: concurrency,
		Requests:    requests,
		Timeout:     config.Duration(2 * time.Second),
	}
}

func TestRun_RequestCountIsExact(t *testing.T) {
	for _, tc := range []struct {
		concurrency int
		requests    int64
	}{
		{1, 25},
		{10, 100},
		{1000, 1000},
		{7, 3},
	} {
		var hits atomic.Int64
		srv := helloServer(t, &hits)
		sc := compile(t, plainText(tc.concurrency, tc.requests))

		run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, sc)
		require.NoError(t, err)

		assert.Len(t, run.Samples, int(tc.requests))
		assert.Equal(t, tc.requests, hits.Load())
		assert.Equal(t, tc.concurrency, run.Workers)
		assert.False(t, run.Incomplete)
		for _, s := range run.Samples {
			assert.Equal(t, OutcomeSuccess, s.Outcome, s.Error)
			assert.Equal(t, "t", s.Target)
			assert.Equal(t, "plain", s.Scenario)
		}
	}
}

func TestRun_WarmupIsDiscarded(t *testing.T) {
	var hits atomic.Int64
	srv := helloServer(t, &hits)
	cfg := plainText(2, 10)
	cfg.Warmup = 4

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)
	assert.Len(t, run.Samples, 10)
	assert.Equal(t, int64(14), hits.Load())
}

func TestRun_DurationBounds(t *testing.T) {
	srv := helloServer(t, nil)
	cfg := plainText(4, 0)
	cfg.Duration = config.Duration(300 * time.Millisecond)
	cfg.Timeout = config.Duration(time.Second)

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, run.Elapsed(), 300*time.Millisecond)
	assert.Less(t, run.Elapsed(), 300*time.Millisecond+time.Second+500*time.Millisecond)
	assert.NotEmpty(t, run.Samples)
	for _, s := range run.Samples {
		assert.False(t, s.StartedAt.After(run.StartedAt.Add(300*time.Millisecond)))
	}
}

func TestRun_ClassifiesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, plainText(2, 6)))
	require.NoError(t, err)
	require.Len(t, run.Samples, 6)
	for _, s := range run.Samples {
		assert.Equal(t, OutcomeHTTPError, s.Outcome)
		assert.Equal(t, http.StatusInternalServerError, s.Status)
		assert.Contains(t, s.Error, "unexpected status code 500")
	}
}

func TestRun_BodyMismatchIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello, Mars!"))
	}))
	defer srv.Close()

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, plainText(1, 2)))
	require.NoError(t, err)
	for _, s := range run.Samples {
		assert.Equal(t, OutcomeHTTPError, s.Outcome)
		assert.Equal(t, http.StatusOK, s.Status)
	}
}

func TestRun_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := plainText(1, 1)
	cfg.Timeout = config.Duration(100 * time.Millisecond)

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)
	require.Len(t, run.Samples, 1)
	assert.Equal(t, OutcomeTimeout, run.Samples[0].Outcome)
	assert.GreaterOrEqual(t, run.Samples[0].Latency, 100*time.Millisecond)
}

func TestRun_NoConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: "http://" + addr}, compile(t, plainText(2, 4)))
	assert.ErrorIs(t, err, ErrNoConnection)
	require.NotNil(t, run)
	for _, s := range run.Samples {
		assert.Equal(t, OutcomeTransportError, s.Outcome)
	}
}

func TestRun_CancellationKeepsCollectedSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(scenario.DefaultPlainTextBody))
	}))
	defer srv.Close()

	cfg := plainText(4, 0)
	cfg.Duration = config.Duration(time.Minute)
	cfg.Timeout = config.Duration(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	run, err := New().Run(ctx, Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)

	assert.True(t, run.Incomplete)
	assert.Less(t, time.Since(start), 200*time.Millisecond+time.Second+500*time.Millisecond)
	assert.NotEmpty(t, run.Samples)
	for _, s := range run.Samples {
		assert.Equal(t, OutcomeSuccess, s.Outcome, "in-flight requests must not fail on cancellation")
	}
}

func TestRun_RateLimited(t *testing.T) {
	srv := helloServer(t, nil)
	cfg := plainText(4, 0)
	cfg.Duration = config.Duration(500 * time.Millisecond)
	cfg.Rate = 20

	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(run.Samples), 12)
	assert.NotEmpty(t, run.Samples)
}

func TestRun_MatrixPayloadsVerified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req struct {
			Matrix1 scenario.Matrix `json:"matrix1"`
			Matrix2 scenario.Matrix `json:"matrix2"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]scenario.Matrix{"result": scenario.Multiply(req.Matrix1, req.Matrix2)})
	}))
	defer srv.Close()

	cfg := config.ScenarioConfig{
		ID:          "matrix",
		Kind:        config.KindMatrixMultiplication,
		Path:        "/benchmark/matrix-multiplication",
		Concurrency: 3,
		Requests:    9,
		Matrix:      config.MatrixConfig{Size: 5, Pool: 4, Seed: 1},
	}
	run, err := New().Run(context.Background(), Target{Name: "t", BaseURL: srv.URL}, compile(t, cfg))
	require.NoError(t, err)
	require.Len(t, run.Samples, 9)
	for _, s := range run.Samples {
		assert.Equal(t, OutcomeSuccess, s.Outcome, s.Error)
	}
}

func TestTransportPause_StopsAtDeadline(t *testing.T) {
	now := time.Now()
	assert.Equal(t, transportErrorPause, transportPause(now.Add(time.Second), now))
	assert.Equal(t, 3*time.Millisecond, transportPause(now.Add(3*time.Millisecond), now))
	assert.Zero(t, transportPause(now, now))
	assert.Zero(t, transportPause(now.Add(-time.Second), now))
}
