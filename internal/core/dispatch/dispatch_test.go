package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/cache"
	"inspectfleet/internal/core/job"
	"inspectfleet/internal/core/queue"
	"inspectfleet/internal/core/session"
	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool"
)

func newReadySession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(&types.Account{Username: "bot"}, session.NewSimulatedClient, 0, time.Second)
	require.NoError(t, err)

	require.NoError(t, s.LogIn(context.Background(), ""))
	deadline := time.Now().Add(time.Second)
	for !s.Available() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, s.Available())
	return s
}

func TestDispatcher_HandleSuccessWritesSlotAndReleases(t *testing.T) {
	s := newReadySession(t)
	defer s.Close()

	pool := proxypool.New(types.ProxyPoolConf{MaxRequestsPerProxy: 2, SelectionStrategy: "least_loaded"}, []string{"http://p1"})
	pool.DistributeInitial([]string{s.ID})

	lookup := func(id string) *session.Session {
		if id == s.ID {
			return s
		}
		return nil
	}

	d := New(pool, func(id string) bool { return s.Available() }, lookup, cache.NewMemory())

	j := job.New("1.1.1.1", false, []job.Link{{Triple: session.Triple{A: "999", S: "76500000000000001"}}})
	entry := &queue.Entry{Job: j, Index: 0, Link: j.Links[0], ClientIP: j.ClientIP, MaxAttempts: 3}

	_, err := d.Handle(context.Background(), entry)
	require.NoError(t, err)

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}

	results := j.Results()
	require.NotNil(t, results[0])
	require.NotNil(t, results[0].Item)
	assert.Equal(t, "999", results[0].Item.AssetID)
}

func TestDispatcher_HandleNoSessionReturnsNoBotsAvailable(t *testing.T) {
	pool := proxypool.New(types.ProxyPoolConf{MaxRequestsPerProxy: 2, SelectionStrategy: "least_loaded"}, []string{"http://p1"})
	d := New(pool, func(string) bool { return false }, func(string) *session.Session { return nil }, cache.NewMemory())

	j := job.New("2.2.2.2", false, []job.Link{{Triple: session.Triple{A: "1", S: "1"}}})
	entry := &queue.Entry{Job: j, Index: 0, Link: j.Links[0], ClientIP: j.ClientIP, MaxAttempts: 3}

	_, err := d.Handle(context.Background(), entry)
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.NoBotsAvailable, apiErr.Kind)
}
