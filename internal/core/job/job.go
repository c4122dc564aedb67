// Package job holds the client-submitted batch that flows from the HTTP
// surface through the Request Queue and Dispatcher back to a response.
package job

import (
	"sync"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/core/session"
)

// Link is one inspect target plus an optional client-submitted price.
type Link struct {
	Triple session.Triple
	Price  *int64
}

// SlotResult is the outcome written into one Link's response slot.
type SlotResult struct {
	Item *session.ItemData
	Err  *apierr.Error
}

// Job is a client-submitted batch: every Link gets exactly one SlotResult
// before the Job is complete.
type Job struct {
	ClientIP string
	Bulk     bool
	Links    []Link

	mu        sync.Mutex
	slots     []*SlotResult
	remaining int
	done      chan struct{}
}

// New builds a Job with one empty slot per link.
func New(clientIP string, bulk bool, links []Link) *Job {
	return &Job{
		ClientIP:  clientIP,
		Bulk:      bulk,
		Links:     links,
		slots:     make([]*SlotResult, len(links)),
		remaining: len(links),
		done:      make(chan struct{}),
	}
}

// SetSlot records the result for link i. Closes done once every slot has
// a result.
func (j *Job) SetSlot(i int, result SlotResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.slots[i] != nil {
		return
	}
	r := result
	j.slots[i] = &r
	j.remaining--
	if j.remaining == 0 {
		close(j.done)
	}
}

// Done is closed once every slot has a response.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Results returns the current slot snapshot; unresolved slots are nil.
func (j *Job) Results() []*SlotResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*SlotResult, len(j.slots))
	copy(out, j.slots)
	return out
}

// Remaining is the count of slots without a response yet.
func (j *Job) Remaining() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.remaining
}
