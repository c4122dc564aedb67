package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/shared/types"
)

func TestNormalize_RoundTrip(t *testing.T) {
	seed := 5
	wear := 0.123
	raw := &RawItemReply{
		AssetID:   "999",
		Paintwear: &wear,
		Paintseed: nil,
		Stickers:  []RawSticker{{StickerID: 5}},
	}
	_ = seed

	item := normalize(raw)

	assert.Equal(t, "999", item.AssetID)
	assert.Equal(t, 0.123, item.FloatValue)
	assert.Equal(t, 0, item.PaintSeed)
	require.Len(t, item.Stickers, 1)
	assert.Equal(t, 5, item.Stickers[0].StickerID)
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, ReasonSteamGuard, classifyFailure(63, ""))
	assert.Equal(t, ReasonSteamGuard, classifyFailure(65, ""))
	assert.Equal(t, ReasonRateLimit, classifyFailure(84, ""))
	assert.Equal(t, ReasonRateLimit, classifyFailure(0, "AccountLoginDeniedThrottle"))
	assert.Equal(t, ReasonAuth, classifyFailure(61, ""))
	assert.Equal(t, ReasonAuth, classifyFailure(66, ""))
	assert.Equal(t, ReasonProxy, classifyFailure(0, "connection refused"))
	assert.Equal(t, ReasonOther, classifyFailure(0, "something unexpected"))
}

func TestSession_LogInBecomesReadyAndInspects(t *testing.T) {
	account := &types.Account{Username: "bot1", Password: "pw"}
	s, err := New(account, NewSimulatedClient, 200*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer s.Close()

	var readyEvents int
	done := make(chan struct{})
	go func() {
		for ev := range s.Events() {
			if ev.Kind == EventReady {
				readyEvents++
				close(done)
				return
			}
		}
	}()

	ctx := context.Background()
	require.NoError(t, s.LogIn(ctx, ""))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready event")
	}

	assert.True(t, s.Ready())
	assert.False(t, s.Busy())

	item, delay, err := s.Inspect(ctx, Triple{S: "0", A: "111", D: "1", M: "222"})
	require.NoError(t, err)
	assert.Equal(t, "111", item.AssetID)
	assert.GreaterOrEqual(t, delay, time.Duration(0))

	assert.True(t, s.Busy())
	time.Sleep(delay + 80*time.Millisecond)
	assert.False(t, s.Busy())
}

func TestSession_InspectRejectedWhenNotReady(t *testing.T) {
	account := &types.Account{Username: "bot2", Password: "pw"}
	s, err := New(account, NewSimulatedClient, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Inspect(context.Background(), Triple{A: "1"})
	assert.Error(t, err)
}

func TestTriple_Owner(t *testing.T) {
	assert.Equal(t, "77", Triple{S: "77", M: "88"}.Owner())
	assert.Equal(t, "88", Triple{S: "0", M: "88"}.Owner())
}
