package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspectfleet/internal/cache"
	"inspectfleet/internal/core/dispatch"
	"inspectfleet/internal/core/fleet"
	"inspectfleet/internal/core/queue"
	"inspectfleet/internal/core/session"
	"inspectfleet/internal/shared/settings"
	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	pool := proxypool.New(types.ProxyPoolConf{MaxRequestsPerProxy: 4, SelectionStrategy: "least_loaded"}, []string{"http://p1"})
	sup := fleet.New(types.FleetConf{MaxOnlineBots: 1}, 0, time.Second, pool, session.NewSimulatedClient, 5*time.Second)
	sup.Start(context.Background(), []*types.Account{{Username: "bot"}})
	t.Cleanup(sup.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for sup.ReadyCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, sup.ReadyCount())

	c := cache.NewMemory()
	d := dispatch.New(pool, sup.Available, sup.SessionFor, c)
	q := queue.New(pool, sup.ReadyCount, d.Handle)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	mgr, err := settings.NewManager("")
	require.NoError(t, err)

	return New(Config{MaxAttempts: 3}, sup, pool, q, mgr, c)
}

func TestHandleIndex_SuccessReturnsItem(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/?s=76561198000000000&a=42&d=99", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"a":"42"`)
}

func TestHandleIndex_MissingParamsIsInvalidInspect(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidInspect")
}

func TestHandleBulk_BadBodyRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/bulk", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndex_CachedHitServesWithoutSessions(t *testing.T) {
	pool := proxypool.New(types.ProxyPoolConf{MaxRequestsPerProxy: 4, SelectionStrategy: "least_loaded"}, nil)
	sup := fleet.New(types.FleetConf{MaxOnlineBots: 0}, 0, time.Second, pool, session.NewSimulatedClient, 5*time.Second)
	sup.Start(context.Background(), nil)
	t.Cleanup(sup.Stop)
	require.Equal(t, 0, sup.ReadyCount())

	c := cache.NewMemory()
	d := dispatch.New(pool, sup.Available, sup.SessionFor, c)
	q := queue.New(pool, sup.ReadyCount, d.Handle)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	mgr, err := settings.NewManager("")
	require.NoError(t, err)

	s := New(Config{MaxAttempts: 3}, sup, pool, q, mgr, c)

	// No sessions are ready, but a cached asset must still be served
	// straight out of the Cache Facade without any upstream inspect.
	require.NoError(t, c.Put(context.Background(), &cache.CachedItem{AssetID: "42", PaintWear: 0.2, Pattern: 661}))

	req := httptest.NewRequest(http.MethodGet, "/?s=76561198000000000&a=42&d=99", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"a":"42"`)
	require.NotContains(t, rec.Body.String(), "SteamOffline")
}

func TestHandleStats_ReportsQueueConcurrency(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue_concurrency"`)
}

func TestHandleStatus_ReportsOptimal(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"optimal"`)
}
