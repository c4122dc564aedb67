package proxypool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/shared/types"
)

func testCfg() types.ProxyPoolConf {
	return types.ProxyPoolConf{
		MaxRequestsPerProxy: 2,
		RequestCooldownMs:   0,
		SelectionStrategy:   "least_loaded",
		RetryEnabled:        true,
		RetryMaxRetries:     3,
		RetryExcludeFailed:  true,
		RetryDelayMs:        1000,
	}
}

func TestDistributeInitial_FillsSequentially(t *testing.T) {
	p := New(testCfg(), []string{"http://p1", "http://p2"})
	assignments := p.DistributeInitial([]string{"a", "b", "c", "d"})

	require.Len(t, assignments, 4)
	assert.Equal(t, "http://p1", assignments["a"])
	assert.Equal(t, "http://p1", assignments["b"])
	assert.Equal(t, "http://p2", assignments["c"])
	assert.Equal(t, "http://p2", assignments["d"])
}

func TestNew_EmptyProxyListFallsBackToNoProxyGroup(t *testing.T) {
	p := New(testCfg(), nil)
	groups := p.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "", groups[0].ProxyURL)
}

func TestSelectSession_RespectsAdmissionAndAvailability(t *testing.T) {
	p := New(testCfg(), []string{"http://p1"})
	p.DistributeInitial([]string{"s1", "s2"})

	available := map[string]bool{"s1": false, "s2": true}
	sid, groupID, err := p.SelectSession(func(id string) bool { return available[id] })
	require.NoError(t, err)
	assert.Equal(t, "s2", sid)
	assert.Equal(t, 0, groupID)

	groups := p.Groups()
	assert.Equal(t, 1, groups[0].ActiveRequests)
}

func TestSelectSession_NoAvailableSessionsErrors(t *testing.T) {
	p := New(testCfg(), []string{"http://p1"})
	p.DistributeInitial([]string{"s1"})

	_, _, err := p.SelectSession(func(string) bool { return false })
	assert.Error(t, err)
}

func TestHandleLoginFailure_SteamguardDoesNotChargeHealth(t *testing.T) {
	p := New(testCfg(), []string{"http://p1", "http://p2"})
	p.DistributeInitial([]string{"s1"})

	result := p.HandleLoginFailure("s1", "steamguard")
	require.True(t, result.ShouldRetry)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, 10, int(result.RetryDelay.Seconds()))

	groups := p.Groups()
	assert.Equal(t, 0, groups[0].LoginFailures)
}

func TestHandleLoginFailure_ExhaustedRetriesStops(t *testing.T) {
	cfg := testCfg()
	cfg.RetryMaxRetries = 1
	p := New(cfg, []string{"http://p1", "http://p2"})
	p.DistributeInitial([]string{"s1"})

	first := p.HandleLoginFailure("s1", "proxy")
	assert.True(t, first.ShouldRetry)

	second := p.HandleLoginFailure("s1", "proxy")
	assert.False(t, second.ShouldRetry)
}

func TestRecordLoginSuccess_ClearsRetryCount(t *testing.T) {
	p := New(testCfg(), []string{"http://p1", "http://p2"})
	p.DistributeInitial([]string{"s1"})
	p.HandleLoginFailure("s1", "proxy")

	p.RecordLoginSuccess("s1")

	result := p.HandleLoginFailure("s1", "proxy")
	assert.Equal(t, 1, result.RetryCount)
}
