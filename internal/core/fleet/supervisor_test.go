package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/core/session"
	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool"
)

func testFleetCfg(maxOnlineBots int) types.FleetConf {
	return types.FleetConf{MaxOnlineBots: maxOnlineBots}
}

func testPoolCfg() types.ProxyPoolConf {
	return types.ProxyPoolConf{MaxRequestsPerProxy: 4, SelectionStrategy: "least_loaded"}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSupervisor_StartupBecomesReady(t *testing.T) {
	accounts := []*types.Account{{Username: "a1"}, {Username: "a2"}}
	pool := proxypool.New(testPoolCfg(), []string{"http://p1"})
	sup := New(testFleetCfg(2), 10*time.Millisecond, time.Second, pool, session.NewSimulatedClient, 5*time.Second)

	sup.Start(context.Background(), accounts)
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool { return sup.ReadyCount() == 2 })
	assert.Equal(t, 2, sup.TotalCount())
	assert.Equal(t, StatusOptimal, sup.Status())
}

func TestSupervisor_ChunksStartupByThree(t *testing.T) {
	accounts := make([]*types.Account, 5)
	for i := range accounts {
		accounts[i] = &types.Account{Username: "bot" + string(rune('a'+i))}
	}
	pool := proxypool.New(testPoolCfg(), []string{"http://p1"})
	sup := New(testFleetCfg(5), 5*time.Millisecond, time.Second, pool, session.NewSimulatedClient, 5*time.Second)

	sup.Start(context.Background(), accounts)
	defer sup.Stop()

	waitFor(t, 6*time.Second, func() bool { return sup.ReadyCount() == 5 })
	assert.Equal(t, 5, sup.TotalCount())
}

// failingThenOKClient fails AuthFailed for one designated username and
// behaves like the simulated client for everyone else.
type failingThenOKClient struct {
	inner   session.UpstreamClient
	events  chan session.UpstreamEvent
	failFor string
}

func newFailingClientFactory(failFor string) session.UpstreamFactory {
	return func(proxyURL string) (session.UpstreamClient, error) {
		inner, err := session.NewSimulatedClient(proxyURL)
		if err != nil {
			return nil, err
		}
		c := &failingThenOKClient{inner: inner, events: make(chan session.UpstreamEvent, 8), failFor: failFor}
		go func() {
			for ev := range inner.Events() {
				c.events <- ev
			}
		}()
		return c, nil
	}
}

func (c *failingThenOKClient) Events() <-chan session.UpstreamEvent { return c.events }

func (c *failingThenOKClient) LogOn(ctx context.Context, account *types.Account, code string) error {
	if account.Username == c.failFor {
		go func() {
			c.events <- session.UpstreamEvent{Kind: session.UpstreamAuthFailed, Eresult: 61}
		}()
		return nil
	}
	return c.inner.LogOn(ctx, account, code)
}

func (c *failingThenOKClient) SetGamesPlayed(appIDs []uint32) { c.inner.SetGamesPlayed(appIDs) }
func (c *failingThenOKClient) SendInspect(t session.Triple) error { return c.inner.SendInspect(t) }
func (c *failingThenOKClient) LogOff()                            { c.inner.LogOff() }
func (c *failingThenOKClient) Close() error                       { return c.inner.Close() }

func TestSupervisor_AuthFailedPromotesSpare(t *testing.T) {
	accounts := []*types.Account{{Username: "bad"}, {Username: "spare1"}}
	pool := proxypool.New(testPoolCfg(), []string{"http://p1"})
	sup := New(testFleetCfg(1), 5*time.Millisecond, time.Second, pool, newFailingClientFactory("bad"), 5*time.Second)

	sup.Start(context.Background(), accounts)
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool { return sup.ReadyCount() == 1 })
	assert.Equal(t, 1, sup.FailedCount())
	assert.Equal(t, 2, sup.TotalCount())
}

func TestSupervisor_Available(t *testing.T) {
	accounts := []*types.Account{{Username: "only"}}
	pool := proxypool.New(testPoolCfg(), []string{"http://p1"})
	sup := New(testFleetCfg(1), 5*time.Millisecond, time.Second, pool, session.NewSimulatedClient, 5*time.Second)
	sup.Start(context.Background(), accounts)
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool { return sup.ReadyCount() == 1 })

	var id string
	for _, s := range sup.sessions {
		id = s.ID
	}
	require.NotEmpty(t, id)
	assert.True(t, sup.Available(id))
	assert.False(t, sup.Available("nonexistent"))
}
