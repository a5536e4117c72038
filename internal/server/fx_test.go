package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/config"
	"github.com/JakeFAU/places-search/internal/search"
	redisstore "github.com/JakeFAU/places-search/internal/storage/redis"
)

func testConfig(t *testing.T, providerURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Provider.BaseURL = providerURL
	cfg.RateLimit.RPS = 0
	cfg.Orchestrator.Concurrency = 2
	cfg.Walker.PageDelay = 0
	return cfg
}

func TestBuildAndRunCompletesJob(t *testing.T) {
	var calls atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Page int `json:"page"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Page > 1 {
			_, _ = w.Write([]byte(`{"places":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"places":[
			{"title":"Forno","address":"Rua 1","cid":"1"},
			{"title":"Massa","address":"Rua 2","cid":"2","phoneNumber":"(19) 5555-0000"}
		]}`))
	}))
	defer provider.Close()

	app, err := Build(context.Background(), testConfig(t, provider.URL), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	handler := app.Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs",
		strings.NewReader(`{"owner":"tester","query":"pizza","location_scope":"Campinas","result_cap":10}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.JobID)

	var status struct {
		Job struct {
			Status     string `json:"status"`
			TotalFound int    `json:"total_found"`
		} `json:"job"`
	}
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+submitted.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Job.Status == "completed"
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, 2, status.Job.TotalFound)
	require.Positive(t, calls.Load())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/jobs/"+submitted.JobID+"/export?format=csv&phone_only=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Massa")
	require.NotContains(t, rec.Body.String(), "Forno")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/jobs/"+submitted.JobID+"/exports", bytes.NewBufferString(`{"format":"json"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "memory://exports/tester/places-"+submitted.JobID+".json")

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestBuildRejectsBadPostgresDSN(t *testing.T) {
	cfg := testConfig(t, "http://provider.invalid")
	cfg.Storage.Backend = config.BackendPostgres
	cfg.Database.DSN = "host=localhost port=notaport"
	cfg.Progress.Enabled = false

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres job store init failed")
}

func TestBuildWithRedisBackendFailsWhenUnreachable(t *testing.T) {
	cfg := testConfig(t, "http://provider.invalid")
	cfg.Storage.Backend = config.BackendRedis
	cfg.Redis.URL = "not-a-url"
	cfg.Progress.Enabled = false

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis client init failed")
}

func TestRunRecoversJobsLeftByPreviousProcess(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"places":[{"title":"Forno","address":"Rua 1","cid":"1"}]}`))
	}))
	defer provider.Close()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	seed, err := redisstore.NewJobStore(client, redisstore.WithPrefix("recover"))
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour)
	loc := "Campinas"
	require.NoError(t, seed.CreateJob(ctx, search.Job{
		ID: "queued", Owner: "o", Query: "pizza", LocationScope: &loc, ResultCap: 1, CreatedAt: created,
	}))
	require.NoError(t, seed.CreateJob(ctx, search.Job{
		ID: "orphan", Owner: "o", Query: "bar", LocationScope: &loc, ResultCap: 1, CreatedAt: created,
	}))
	require.NoError(t, seed.MarkRunning(ctx, "orphan", search.Progress{Percentage: 30}, created))

	cfg := testConfig(t, provider.URL)
	cfg.Storage.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Redis.KeyPrefix = "recover"
	cfg.Progress.Enabled = false

	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(runCtx) }()

	require.Eventually(t, func() bool {
		job, err := seed.GetJob(ctx, "queued")
		return err == nil && job.Status == search.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	orphan, err := seed.GetJob(ctx, "orphan")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusFailed, orphan.Status)
	require.NotNil(t, orphan.ErrorMessage)
	require.Contains(t, *orphan.ErrorMessage, "interrupted")

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}
}
