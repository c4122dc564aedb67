package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/core/job"
	"inspectfleet/internal/core/session"
)

func alwaysReady(n int) ReadyCountFunc {
	return func() int { return n }
}

func TestQueue_SuccessResolvesSlotAndDecrementsUser(t *testing.T) {
	q := New(nil, alwaysReady(1), func(ctx context.Context, e *Entry) (time.Duration, error) {
		e.Job.SetSlot(e.Index, job.SlotResult{Item: &session.ItemData{AssetID: e.Link.Triple.A}})
		return 0, nil
	})
	q.mu.Lock()
	q.running = true
	q.concurrency = 10
	q.mu.Unlock()

	j := job.New("1.2.3.4", false, []job.Link{{Triple: session.Triple{A: "1"}}})
	q.AddJob(j, 3)

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}

	assert.Equal(t, 0, q.Users("1.2.3.4"))
	results := j.Results()
	require.NotNil(t, results[0])
	assert.Equal(t, "1", results[0].Item.AssetID)
}

func TestQueue_NoBotsAvailableDoesNotChargeAttempt(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	q := New(nil, alwaysReady(1), func(ctx context.Context, e *Entry) (time.Duration, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return 0, apierr.New(apierr.NoBotsAvailable, "no session")
		}
		e.Job.SetSlot(e.Index, job.SlotResult{Item: &session.ItemData{AssetID: e.Link.Triple.A}})
		return 0, nil
	})
	q.mu.Lock()
	q.running = true
	q.concurrency = 1
	q.mu.Unlock()

	j := job.New("5.6.7.8", false, []job.Link{{Triple: session.Triple{A: "1"}}})
	q.AddJob(j, 2)

	select {
	case <-j.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3)
}

func TestQueue_TerminalFailureAfterMaxAttempts(t *testing.T) {
	q := New(nil, alwaysReady(1), func(ctx context.Context, e *Entry) (time.Duration, error) {
		return 0, fmt.Errorf("transient")
	})
	q.mu.Lock()
	q.running = true
	q.concurrency = 1
	q.mu.Unlock()

	j := job.New("9.9.9.9", false, []job.Link{{Triple: session.Triple{A: "1"}}})
	q.AddJob(j, 2)

	select {
	case <-j.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete")
	}

	results := j.Results()
	require.NotNil(t, results[0])
	require.NotNil(t, results[0].Err)
	assert.Equal(t, apierr.TTLExceeded, results[0].Err.Kind)
	assert.Equal(t, 0, q.Users("9.9.9.9"))
}

func TestQueue_RetryReinsertsAtHead(t *testing.T) {
	q := New(nil, alwaysReady(1), nil)
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	x := &Entry{MaxAttempts: 3, ClientIP: "x"}
	y := &Entry{MaxAttempts: 3, ClientIP: "y"}
	q.mu.Lock()
	q.entries = []*Entry{x, y}
	q.mu.Unlock()

	x.Attempts = 1
	q.requeueHead(x)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Same(t, x, q.entries[0])
}
