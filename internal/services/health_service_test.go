package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CoderXiaopang/npm-meta/backend/internal/config"
	"github.com/CoderXiaopang/npm-meta/backend/internal/models"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.StreamMeta{}))
	return db
}

// newHealthTarget serves a /health endpoint answering {"status":"ok"} and
// returns its host and port.
func newHealthTarget(t *testing.T) (string, int) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(server.Close)
	return hostPort(t, server.URL)
}

func TestRunCycle_NoDataAvailable(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	// No service token, no foreground snapshot: the cycle must be a no-op.
	svc.RunCycle(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.StreamMeta{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRunCycle_ProbesSnapshotAndPersists(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	host, port := newHealthTarget(t)
	svc.SetLastStreams([]npm.Stream{
		{ID: 7, IncomingPort: 9000, ForwardingHost: host, ForwardingPort: port},
	})

	svc.RunCycle(context.Background())

	var meta models.StreamMeta
	require.NoError(t, db.First(&meta, "npm_id = ?", 7).Error)
	require.Equal(t, models.HealthStatusOK, meta.HealthStatus)
	require.Equal(t, "Health check ok", meta.HealthMsg)
	require.NotNil(t, meta.HealthLastCheck)

	rec, ok := svc.StatusFor(7)
	require.True(t, ok)
	require.Equal(t, models.HealthStatusOK, rec.Status)
}

func TestRunCycle_SkipsStreamsWithoutTarget(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	svc.SetLastStreams([]npm.Stream{
		{ID: 8, IncomingPort: 9001, ForwardingHost: "", ForwardingPort: 0},
	})

	svc.RunCycle(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.StreamMeta{}).Count(&count).Error)
	require.Zero(t, count)
	_, ok := svc.StatusFor(8)
	require.False(t, ok)
}

func TestRunCycle_LiveFetchWithServiceToken(t *testing.T) {
	db := setupTestDB(t)
	host, port := newHealthTarget(t)

	npmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/nginx/streams", r.URL.Path)
		require.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]npm.Stream{
			{ID: 12, IncomingPort: 9100, ForwardingHost: host, ForwardingPort: port},
		})
	}))
	defer npmServer.Close()

	svc := NewHealthService(db, npm.NewClient(npmServer.URL), config.Config{})
	svc.setToken("service-token")

	svc.RunCycle(context.Background())

	var meta models.StreamMeta
	require.NoError(t, db.First(&meta, "npm_id = ?", 12).Error)
	require.Equal(t, models.HealthStatusOK, meta.HealthStatus)
}

func TestRunCycle_LiveFetchFailureFallsBackToSnapshot(t *testing.T) {
	db := setupTestDB(t)
	host, port := newHealthTarget(t)

	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})
	svc.setToken("service-token") // live fetch will fail, snapshot must be used
	svc.SetLastStreams([]npm.Stream{
		{ID: 13, IncomingPort: 9200, ForwardingHost: host, ForwardingPort: port},
	})

	svc.RunCycle(context.Background())

	var meta models.StreamMeta
	require.NoError(t, db.First(&meta, "npm_id = ?", 13).Error)
	require.Equal(t, models.HealthStatusOK, meta.HealthStatus)
}

func TestRunCycle_ToleratesStaleHealthRecords(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	// Health record for a stream that no longer exists remotely.
	stale := models.StreamMeta{NPMID: 99, HealthStatus: models.HealthStatusError, HealthMsg: "connection refused"}
	require.NoError(t, db.Create(&stale).Error)

	host, port := newHealthTarget(t)
	svc.SetLastStreams([]npm.Stream{
		{ID: 7, IncomingPort: 9000, ForwardingHost: host, ForwardingPort: port},
	})

	svc.RunCycle(context.Background())

	// The stale record is untouched, the live stream got probed.
	var kept models.StreamMeta
	require.NoError(t, db.First(&kept, "npm_id = ?", 99).Error)
	require.Equal(t, models.HealthStatusError, kept.HealthStatus)

	var fresh models.StreamMeta
	require.NoError(t, db.First(&fresh, "npm_id = ?", 7).Error)
	require.Equal(t, models.HealthStatusOK, fresh.HealthStatus)
}

func TestPersistHealth_PreservesAnnotation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	meta := models.StreamMeta{NPMID: 5, Memo: "payments service", DocURL: "https://docs.example.com"}
	require.NoError(t, db.Create(&meta).Error)

	host, port := newHealthTarget(t)
	svc.SetLastStreams([]npm.Stream{
		{ID: 5, IncomingPort: 9300, ForwardingHost: host, ForwardingPort: port},
	})
	svc.RunCycle(context.Background())

	var updated models.StreamMeta
	require.NoError(t, db.First(&updated, "npm_id = ?", 5).Error)
	require.Equal(t, "payments service", updated.Memo)
	require.Equal(t, "https://docs.example.com", updated.DocURL)
	require.Equal(t, models.HealthStatusOK, updated.HealthStatus)
}

func TestSetLastStreams_CopiesInput(t *testing.T) {
	svc := NewHealthService(setupTestDB(t), npm.NewClient("http://localhost:1"), config.Config{})

	streams := []npm.Stream{{ID: 1, IncomingPort: 8080}}
	svc.SetLastStreams(streams)
	streams[0].IncomingPort = 9999

	snapshot, live := svc.streamsToProbe(context.Background())
	require.False(t, live)
	require.Equal(t, 8080, snapshot[0].IncomingPort)
}

func TestRun_DegradesAndStopsOnCancel(t *testing.T) {
	db := setupTestDB(t)
	// Service creds set but NPM unreachable: login fails and the daemon runs
	// in degraded mode until the context ends.
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{
		ServiceEmail:    "svc@example.com",
		ServicePassword: "x",
	})
	svc.warmupDelay = 10 * time.Millisecond
	svc.cycleInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on context cancellation")
	}
	require.Empty(t, svc.serviceToken())
}

func TestRun_ConcurrentCycleTriggerDuringLogin(t *testing.T) {
	db := setupTestDB(t)

	// The service login answers slowly so foreground-triggered cycles
	// overlap the daemon storing the token. Run with -race.
	npmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens":
			time.Sleep(50 * time.Millisecond)
			json.NewEncoder(w).Encode(map[string]string{"token": "service-token"})
		case "/nginx/streams":
			json.NewEncoder(w).Encode([]npm.Stream{})
		}
	}))
	defer npmServer.Close()

	svc := NewHealthService(db, npm.NewClient(npmServer.URL), config.Config{
		ServiceEmail:    "svc@example.com",
		ServicePassword: "changeme",
	})
	svc.warmupDelay = time.Millisecond
	svc.cycleInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				svc.RunCycle(ctx)
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on context cancellation")
	}
	require.Equal(t, "service-token", svc.serviceToken())
}

func TestReportOrphans(t *testing.T) {
	db := setupTestDB(t)
	svc := NewHealthService(db, npm.NewClient("http://localhost:1"), config.Config{})

	// Without a snapshot the report must bail out quietly.
	svc.ReportOrphans()

	require.NoError(t, db.Create(&models.StreamMeta{NPMID: 40, Memo: "gone"}).Error)
	require.NoError(t, db.Create(&models.StreamMeta{NPMID: 41, Memo: "alive"}).Error)
	svc.SetLastStreams([]npm.Stream{{ID: 41}})

	// Must not panic and must not delete anything.
	svc.ReportOrphans()

	var count int64
	require.NoError(t, db.Model(&models.StreamMeta{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}
