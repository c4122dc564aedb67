// Package proxypool implements the Proxy Pool Scheduler (C2): it
// partitions sessions across proxy groups, enforces per-group admission
// control, tracks proxy health, and reassigns sessions away from
// unhealthy proxies on login failure.
package proxypool

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool/model"
)

// AvailabilityFunc reports whether the named session currently has
// ready ∧ ¬busy. The pool never touches Session directly — only ids —
// so this is the only way it learns about session state.
type AvailabilityFunc func(sessionID string) bool

const healthFailureThreshold = 5
const healthSuccessRateFloor = 0.3

// Pool is the Proxy Pool Scheduler.
type Pool struct {
	mu sync.Mutex

	groups []*model.ProxyGroup

	maxRequestsPerProxy int
	requestCooldown     time.Duration

	retryEnabled       bool
	retryMaxRetries    int
	retryExcludeFailed bool
	retryDelay         time.Duration

	botToGroup    map[string]int
	botRetryCount map[string]int
	failedProxies map[int]bool

	balancer Balancer
}

// New builds a pool from the given proxy URLs (one group per URL). An
// empty list produces a single "no proxy" fallback group.
func New(cfg types.ProxyPoolConf, proxyURLs []string) *Pool {
	if len(proxyURLs) == 0 {
		proxyURLs = []string{""}
	}

	groups := make([]*model.ProxyGroup, 0, len(proxyURLs))
	for i, url := range proxyURLs {
		groups = append(groups, &model.ProxyGroup{ID: i, ProxyURL: url})
	}

	return &Pool{
		groups:              groups,
		maxRequestsPerProxy: cfg.MaxRequestsPerProxy,
		requestCooldown:     time.Duration(cfg.RequestCooldownMs) * time.Millisecond,
		retryEnabled:        cfg.RetryEnabled,
		retryMaxRetries:     cfg.RetryMaxRetries,
		retryExcludeFailed:  cfg.RetryExcludeFailed,
		retryDelay:          time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		botToGroup:          make(map[string]int),
		botRetryCount:       make(map[string]int),
		failedProxies:       make(map[int]bool),
		balancer:            NewBalancer(cfg.SelectionStrategy),
	}
}

// SetBalancer swaps the active selection strategy, used when runtime
// settings (C9) change the configured strategy.
func (p *Pool) SetBalancer(b Balancer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balancer = b
}

// Groups returns a snapshot of the pool's groups, for /stats reporting.
func (p *Pool) Groups() []*model.ProxyGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.ProxyGroup, len(p.groups))
	for i, g := range p.groups {
		copied := *g
		out[i] = &copied
	}
	return out
}

// DistributeInitial walks sessionIDs in order, filling groups
// sequentially: perGroup = ceil(B/G) sessions per group before
// advancing to the next one.
func (p *Pool) DistributeInitial(sessionIDs []string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, g := range p.groups {
		g.BoundSessionIDs = nil
	}
	p.botToGroup = make(map[string]int, len(sessionIDs))

	assignments := make(map[string]string, len(sessionIDs))
	if len(p.groups) == 0 || len(sessionIDs) == 0 {
		return assignments
	}

	perGroup := int(math.Ceil(float64(len(sessionIDs)) / float64(len(p.groups))))
	if perGroup < 1 {
		perGroup = 1
	}

	groupIdx := 0
	inGroup := 0
	for _, sid := range sessionIDs {
		if inGroup >= perGroup && groupIdx < len(p.groups)-1 {
			groupIdx++
			inGroup = 0
		}
		g := p.groups[groupIdx]
		g.BoundSessionIDs = append(g.BoundSessionIDs, sid)
		p.botToGroup[sid] = g.ID
		assignments[sid] = g.ProxyURL
		inGroup++
	}
	return assignments
}

// Bind explicitly binds a single session to a group, used when a spare
// account is activated after startup.
func (p *Pool) Bind(sessionID string, groupID int) (proxyURL string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g := p.groupByID(groupID)
	if g == nil {
		return "", fmt.Errorf("proxypool: unknown group %d", groupID)
	}
	g.BoundSessionIDs = append(g.BoundSessionIDs, sessionID)
	p.botToGroup[sessionID] = groupID
	return g.ProxyURL, nil
}

// SelectSession returns a session id and its group id from an
// admissible group with at least one available (ready ∧ ¬busy) bound
// session, incrementing that group's counters atomically with the choice.
func (p *Pool) SelectSession(avail AvailabilityFunc) (sessionID string, groupID int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	candidates := make([]*model.ProxyGroup, 0, len(p.groups))
	pick := make(map[int]string, len(p.groups))

	for _, g := range p.groups {
		if !p.admissible(g, now) {
			continue
		}
		sid := firstAvailable(g.BoundSessionIDs, avail)
		if sid == "" {
			continue
		}
		candidates = append(candidates, g)
		pick[g.ID] = sid
	}

	chosen, err := p.balancer.Select(candidates)
	if err != nil {
		return "", 0, err
	}

	chosen.ActiveRequests++
	chosen.TotalRequests++
	chosen.LastRequestTime = now

	return pick[chosen.ID], chosen.ID, nil
}

func (p *Pool) admissible(g *model.ProxyGroup, now time.Time) bool {
	if g.ActiveRequests >= p.maxRequestsPerProxy {
		return false
	}
	if !g.LastRequestTime.IsZero() && now.Sub(g.LastRequestTime) < p.requestCooldown {
		return false
	}
	return true
}

func firstAvailable(sessionIDs []string, avail AvailabilityFunc) string {
	for _, sid := range sessionIDs {
		if avail(sid) {
			return sid
		}
	}
	return ""
}

// Release decrements activeRequests (clamped at 0) for groupID, and
// increments failures on unsuccessful completion.
func (p *Pool) Release(groupID int, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g := p.groupByID(groupID)
	if g == nil {
		return
	}
	if g.ActiveRequests > 0 {
		g.ActiveRequests--
	}
	if !success {
		g.Failures++
	}
}

// CanAcceptMoreRequests is the cheap pool-level gate the Request Queue
// checks before popping its next entry: true if at least one group is
// below its concurrency ceiling, independent of session availability.
func (p *Pool) CanAcceptMoreRequests() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		if g.ActiveRequests < p.maxRequestsPerProxy {
			return true
		}
	}
	return false
}

// MaxConcurrency is the theoretical ceiling on simultaneous in-flight
// requests across every group, used to size the queue's concurrency.
func (p *Pool) MaxConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups) * p.maxRequestsPerProxy
}

// LoginFailureResult is the reassignment decision for a failed login.
type LoginFailureResult struct {
	ShouldRetry bool
	NewGroupID  int
	NewProxyURL string
	RetryDelay  time.Duration
	RetryCount  int
}

// HandleLoginFailure records a login failure against the session's
// current group, consults the retry policy, and — if retrying — picks a
// new healthy group and rebinds the session to it.
func (p *Pool) HandleLoginFailure(sessionID string, reason string) LoginFailureResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	currentGroupID, bound := p.botToGroup[sessionID]
	var current *model.ProxyGroup
	if bound {
		current = p.groupByID(currentGroupID)
	}

	if current != nil && reason != "steamguard" {
		current.LoginFailures++
		p.updateHealth(current)
	}

	if !p.retryEnabled || p.botRetryCount[sessionID] >= p.retryMaxRetries {
		return LoginFailureResult{ShouldRetry: false}
	}

	p.botRetryCount[sessionID]++
	retryCount := p.botRetryCount[sessionID]

	next := p.pickReassignmentGroup(currentGroupID)
	if next == nil {
		return LoginFailureResult{ShouldRetry: false, RetryCount: retryCount}
	}

	if current != nil {
		current.Unbind(sessionID)
	}
	next.Bind(sessionID)
	p.botToGroup[sessionID] = next.ID

	delay := p.retryDelay
	if reason == "steamguard" {
		delay = 10 * time.Second
	}

	return LoginFailureResult{
		ShouldRetry: true,
		NewGroupID:  next.ID,
		NewProxyURL: next.ProxyURL,
		RetryDelay:  delay,
		RetryCount:  retryCount,
	}
}

// pickReassignmentGroup selects a healthy group other than excludeID,
// sorted by successRate desc (bucketed by 0.1) then |bots| asc.
func (p *Pool) pickReassignmentGroup(excludeID int) *model.ProxyGroup {
	var candidates []*model.ProxyGroup
	for _, g := range p.groups {
		if g.ID == excludeID {
			continue
		}
		if p.retryExcludeFailed && p.failedProxies[g.ID] {
			continue
		}
		if len(g.BoundSessionIDs) >= p.maxRequestsPerProxy {
			continue
		}
		candidates = append(candidates, g)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		bi := math.Floor(candidates[i].SuccessRate()*10) / 10
		bj := math.Floor(candidates[j].SuccessRate()*10) / 10
		if bi != bj {
			return bi > bj
		}
		return len(candidates[i].BoundSessionIDs) < len(candidates[j].BoundSessionIDs)
	})
	return candidates[0]
}

// RecordLoginSuccess increments the bound group's successfulLogins and
// clears the session's retry counter.
func (p *Pool) RecordLoginSuccess(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if groupID, ok := p.botToGroup[sessionID]; ok {
		if g := p.groupByID(groupID); g != nil {
			g.SuccessfulLogins++
		}
	}
	delete(p.botRetryCount, sessionID)
}

func (p *Pool) updateHealth(g *model.ProxyGroup) {
	g.Failed = g.LoginFailures > healthFailureThreshold && g.SuccessRate() < healthSuccessRateFloor
	if g.Failed {
		p.failedProxies[g.ID] = true
	}
}

func (p *Pool) groupByID(id int) *model.ProxyGroup {
	for _, g := range p.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}
