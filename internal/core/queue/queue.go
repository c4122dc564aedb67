// Package queue implements the Request Queue (C4): a FIFO with
// head-insertion for retries, per-client and global admission caps, and
// concurrency tracking against live fleet readiness.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/core/job"
	"inspectfleet/proxypool"
)

const concurrencyTick = 50 * time.Millisecond

// Entry is a single link pulled out of a Job.
type Entry struct {
	Job         *job.Job
	Index       int
	Link        job.Link
	ClientIP    string
	Attempts    int
	MaxAttempts int
}

// Handler processes one Entry, returning the post-reply spacing delay on
// success or an error (possibly an *apierr.Error) on failure.
type Handler func(ctx context.Context, entry *Entry) (time.Duration, error)

// ReadyCountFunc reports the fleet's current ready-session count.
type ReadyCountFunc func() int

// Queue is the Request Queue.
type Queue struct {
	mu          sync.Mutex
	entries     []*Entry
	users       map[string]int
	processing  int
	concurrency int
	running     bool

	pool       *proxypool.Pool
	readyCount ReadyCountFunc
	handler    Handler

	stopCh chan struct{}
}

// New constructs a Queue. pool may be nil, in which case concurrency
// tracks readyCount alone and admission ignores per-proxy capacity.
func New(pool *proxypool.Pool, readyCount ReadyCountFunc, handler Handler) *Queue {
	return &Queue{
		users:      make(map[string]int),
		pool:       pool,
		readyCount: readyCount,
		handler:    handler,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the 50ms concurrency-sizing tick and marks the queue running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	go q.concurrencyLoop(ctx)
}

// Stop halts the concurrency tick. Already-running entries finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	close(q.stopCh)
}

func (q *Queue) concurrencyLoop(ctx context.Context) {
	ticker := time.NewTicker(concurrencyTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.resizeConcurrency()
		}
	}
}

func (q *Queue) resizeConcurrency() {
	target := q.readyCount()
	if q.pool != nil {
		if max := q.pool.MaxConcurrency(); max < target {
			target = max
		}
	}

	q.mu.Lock()
	grew := target > q.concurrency
	q.concurrency = target
	q.mu.Unlock()

	if grew {
		q.kick()
	}
}

// AddJob pushes every link in j as an Entry, with attempts=0, then nudges
// the drain loop once.
func (q *Queue) AddJob(j *job.Job, maxAttempts int) {
	indices := make([]int, len(j.Links))
	for i := range j.Links {
		indices[i] = i
	}
	q.AddIndices(j, indices, maxAttempts)
}

// AddIndices pushes only the named link indices of j as Entries — the
// residue left once a cache lookup has already resolved the rest.
func (q *Queue) AddIndices(j *job.Job, indices []int, maxAttempts int) {
	q.mu.Lock()
	for _, i := range indices {
		entry := &Entry{Job: j, Index: i, Link: j.Links[i], ClientIP: j.ClientIP, MaxAttempts: maxAttempts}
		q.entries = append(q.entries, entry)
		q.users[j.ClientIP]++
	}
	q.mu.Unlock()

	q.kick()
}

func (q *Queue) kick() {
	go q.drain(context.Background())
}

// Users returns the current in-flight count for a client ip, for
// admission checks made by the HTTP surface.
func (q *Queue) Users(ip string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.users[ip]
}

// Size is the number of entries currently queued (not counting
// in-flight processing entries).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Concurrency is the current live concurrency ceiling, as last set by the
// resize tick.
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// drain pops and dispatches entries while running, non-empty, below the
// concurrency ceiling, and (if a pool exists) the pool can accept more.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if !q.running || len(q.entries) == 0 || q.processing >= q.concurrency {
			q.mu.Unlock()
			return
		}
		if q.pool != nil && !q.pool.CanAcceptMoreRequests() {
			q.mu.Unlock()
			return
		}

		entry := q.entries[0]
		q.entries = q.entries[1:]
		q.processing++
		q.mu.Unlock()

		go q.runEntry(ctx, entry)
	}
}

func (q *Queue) runEntry(ctx context.Context, entry *Entry) {
	delay, err := q.handler(ctx, entry)

	if err == nil {
		q.decrementUser(entry.ClientIP)
		time.Sleep(delay)
		q.finishProcessing()
		return
	}

	var apiErr *apierr.Error
	isNoBots := errors.As(err, &apiErr) && apiErr.Kind == apierr.NoBotsAvailable

	if isNoBots {
		q.requeueHead(entry)
		q.finishProcessing()
		return
	}

	entry.Attempts++
	if entry.Attempts >= entry.MaxAttempts {
		entry.Job.SetSlot(entry.Index, job.SlotResult{Err: apierr.New(apierr.TTLExceeded, err.Error())})
		q.decrementUser(entry.ClientIP)
	} else {
		q.requeueHead(entry)
	}
	q.finishProcessing()
}

func (q *Queue) decrementUser(ip string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users[ip]--
	if q.users[ip] <= 0 {
		delete(q.users, ip)
	}
}

func (q *Queue) requeueHead(entry *Entry) {
	q.mu.Lock()
	q.entries = append([]*Entry{entry}, q.entries...)
	q.mu.Unlock()
}

func (q *Queue) finishProcessing() {
	q.mu.Lock()
	q.processing--
	q.mu.Unlock()
	go q.drain(context.Background())
}
