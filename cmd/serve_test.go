package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/api"
)

func TestServerDeps_UnconfiguredServicesStayNil(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Scoring.BatchMaxCount = 50

	env, err := initEnv(context.Background(), "store")
	require.NoError(t, err)
	defer env.Close()

	deps := serverDeps(env)
	assert.Nil(t, deps.Enricher)
	assert.Nil(t, deps.Scorer)
	assert.Nil(t, deps.Batch)
	assert.NotNil(t, deps.Converter)
	assert.Equal(t, 50, deps.MaxBatch)

	h := api.NewServer(deps).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/prospects/p1/score", nil)
	req.Header.Set(api.TeamHeader, "team-a")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- listenAndServe(ctx, &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	err := listenAndServe(context.Background(), &http.Server{Addr: "127.0.0.1:-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server listen")
}
