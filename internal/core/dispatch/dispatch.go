// Package dispatch implements the Dispatcher (C5): the Request Queue's
// Handler, wiring session selection through the proxy pool, the inspect
// round trip, cache annotation, and the slot write.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/cache"
	"inspectfleet/internal/core/job"
	"inspectfleet/internal/core/queue"
	"inspectfleet/internal/core/session"
	"inspectfleet/internal/shared/logger"
	"inspectfleet/proxypool"
)

// SessionLookup resolves a session id to its Session, the indirection the
// supervisor exposes so the dispatcher never needs a Supervisor type import.
type SessionLookup func(id string) *session.Session

// Dispatcher builds the queue.Handler used to drain the Request Queue.
type Dispatcher struct {
	pool      *proxypool.Pool
	available proxypool.AvailabilityFunc
	lookup    SessionLookup
	cache     cache.Cache
	log       zerolog.Logger
}

// New constructs a Dispatcher. available and lookup are typically
// (*fleet.Supervisor).Available and (*fleet.Supervisor).SessionFor.
func New(pool *proxypool.Pool, available proxypool.AvailabilityFunc, lookup SessionLookup, c cache.Cache) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		available: available,
		lookup:    lookup,
		cache:     c,
		log:       logger.WithComponent("dispatch.Dispatcher"),
	}
}

// Handle is a queue.Handler: select a session, inspect, annotate, release.
func (d *Dispatcher) Handle(ctx context.Context, entry *queue.Entry) (time.Duration, error) {
	sessionID, groupID, err := d.pool.SelectSession(d.available)
	if err != nil {
		return 0, apierr.New(apierr.NoBotsAvailable, "no session currently ready")
	}

	s := d.lookup(sessionID)
	if s == nil {
		d.pool.Release(groupID, false)
		return 0, apierr.New(apierr.NoBotsAvailable, "selected session vanished")
	}

	item, delay, err := s.Inspect(ctx, entry.Link.Triple)
	if err != nil {
		d.pool.Release(groupID, false)
		return 0, apierr.New(apierr.GenericBad, err.Error())
	}

	d.pool.Release(groupID, true)

	item.Price = entry.Link.Price
	if d.cache != nil {
		d.annotate(ctx, &item)
	}

	entry.Job.SetSlot(entry.Index, job.SlotResult{Item: &item})
	return delay, nil
}

func (d *Dispatcher) annotate(ctx context.Context, item *session.ItemData) {
	cached := cache.FromItem(item)

	if err := d.cache.AnnotateRank(ctx, cached); err != nil {
		d.log.Warn().Err(err).Str("asset", item.AssetID).Msg("rank annotation failed")
	} else {
		item.Rank = cached.Rank
	}

	if err := d.cache.Put(ctx, cached); err != nil {
		d.log.Warn().Err(err).Str("asset", item.AssetID).Msg("cache write failed")
	}
}
