package proxypool

import (
	"fmt"
	"sort"
	"sync/atomic"

	"inspectfleet/proxypool/model"
)

// Balancer picks one group from a set of already-admissible candidates.
// Candidates are pre-filtered by the pool to those passing admission
// control and having at least one ready, non-busy bound session.
type Balancer interface {
	Select(candidates []*model.ProxyGroup) (*model.ProxyGroup, error)
}

// NewBalancer constructs the named strategy ("least_loaded" or
// "round_robin"); unknown names fall back to least_loaded.
func NewBalancer(strategy string) Balancer {
	switch strategy {
	case "round_robin":
		return &roundRobinBalancer{}
	default:
		return &leastLoadedBalancer{}
	}
}

// leastLoadedBalancer picks the admissible group minimizing
// activeRequests / max(1, |bots|), tie-broken by iteration order.
type leastLoadedBalancer struct{}

func (b *leastLoadedBalancer) Select(candidates []*model.ProxyGroup) (*model.ProxyGroup, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("proxypool: no admissible group")
	}

	best := candidates[0]
	bestLoad := best.Load()
	for _, g := range candidates[1:] {
		if load := g.Load(); load < bestLoad {
			best = g
			bestLoad = load
		}
	}
	return best, nil
}

// roundRobinBalancer scans once from its cursor and returns the first
// admissible group, advancing the cursor past it. The cursor tracks a
// logical position, not an index into the candidate slice, so it keeps
// advancing sensibly even as the candidate set shrinks and grows between
// calls.
type roundRobinBalancer struct {
	cursor atomic.Uint64
}

func (b *roundRobinBalancer) Select(candidates []*model.ProxyGroup) (*model.ProxyGroup, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("proxypool: no admissible group")
	}

	sorted := make([]*model.ProxyGroup, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	start := int(b.cursor.Load())
	chosen := sorted[0]
	for _, g := range sorted {
		if g.ID >= start {
			chosen = g
			break
		}
	}
	b.cursor.Store(uint64(chosen.ID + 1))
	return chosen, nil
}
