// Package fleet implements the Session Fleet Supervisor (C3): it brings
// up a target number of sessions, maintains that count from a spare
// pool, and drives the per-session login retry state machine.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inspectfleet/internal/core/session"
	"inspectfleet/internal/shared/logger"
	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool"
)

const (
	startupChunkSize     = 3
	startupChunkGap      = 3 * time.Second
	spareAccountDelay    = 5 * time.Second
	maintenanceInterval  = 30 * time.Second
	recoveryRecheckDelay = 5 * time.Second
)

// Status is the coarse fleet health reported on /status.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusRecovering Status = "recovering"
	StatusDegraded   Status = "degraded"
)

type failedAccount struct {
	Reason    string
	Timestamp time.Time
}

// PendingAuth is one session parked waiting for an operator-submitted code.
type PendingAuth struct {
	Account   *types.Account
	AuthType  string
	Timestamp time.Time
}

// Supervisor is the Session Fleet Supervisor.
type Supervisor struct {
	log zerolog.Logger

	mu             sync.Mutex
	cfg            types.FleetConf
	requestDelay   time.Duration
	ttl            time.Duration
	pool           *proxypool.Pool
	factory        session.UpstreamFactory
	sessions       map[string]*session.Session
	order          []string
	spareAccounts  []*types.Account
	failedAccounts map[string]failedAccount
	pendingAuth    map[string]PendingAuth
	spareQueue     []*types.Account
	spareQueueBusy bool
	readyCount     int
	maxOnlineBots  int
	policyDelay    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Supervisor. factory builds the UpstreamClient a new
// Session's transport uses — session.NewSimulatedClient in tests and in
// the absence of a real upstream dependency, a production client
// elsewhere.
func New(cfg types.FleetConf, requestDelay, ttl time.Duration, pool *proxypool.Pool, factory session.UpstreamFactory, policyDelay time.Duration) *Supervisor {
	return &Supervisor{
		log:            logger.WithComponent("fleet.Supervisor"),
		cfg:            cfg,
		requestDelay:   requestDelay,
		ttl:            ttl,
		pool:           pool,
		factory:        factory,
		sessions:       make(map[string]*session.Session),
		failedAccounts: make(map[string]failedAccount),
		pendingAuth:    make(map[string]PendingAuth),
		maxOnlineBots:  cfg.MaxOnlineBots,
		policyDelay:    policyDelay,
		stopCh:         make(chan struct{}),
	}
}

// Start splits accounts at maxOnlineBots into initial activations and
// spares, activates the initial set in chunks of 3 with a 3-second gap,
// and starts the 30-second maintenance loop.
func (sup *Supervisor) Start(ctx context.Context, accounts []*types.Account) {
	cut := sup.maxOnlineBots
	if cut > len(accounts) {
		cut = len(accounts)
	}
	initial := accounts[:cut]
	spares := accounts[cut:]

	sup.mu.Lock()
	sup.spareAccounts = append(sup.spareAccounts, spares...)
	sup.mu.Unlock()

	var sessionIDs []string
	for i := 0; i < len(initial); i += startupChunkSize {
		end := i + startupChunkSize
		if end > len(initial) {
			end = len(initial)
		}
		chunk := initial[i:end]

		for _, acct := range chunk {
			sid, err := sup.spawnSession(ctx, acct)
			if err != nil {
				sup.log.Error().Err(err).Str("account", acct.Username).Msg("failed to spawn session")
				continue
			}
			sessionIDs = append(sessionIDs, sid)
		}

		if sup.pool != nil {
			sup.redistribute(sessionIDs)
		}

		for _, acct := range chunk {
			s := sup.sessionByAccount(acct.Username)
			if s != nil {
				_ = s.LogIn(ctx, "")
			}
		}

		if end < len(initial) {
			time.Sleep(startupChunkGap)
		}
	}

	go sup.maintenanceLoop(ctx)
}

func (sup *Supervisor) sessionByAccount(username string) *session.Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, id := range sup.order {
		s := sup.sessions[id]
		if s != nil && s.Account.Username == username {
			return s
		}
	}
	return nil
}

// spawnSession creates a Session, registers it, and attaches its event
// listener goroutine before returning — callers must still invoke LogIn
// themselves once any pool redistribution for this chunk is applied.
func (sup *Supervisor) spawnSession(ctx context.Context, acct *types.Account) (string, error) {
	s, err := session.New(acct, sup.factory, sup.requestDelay, sup.ttl)
	if err != nil {
		return "", fmt.Errorf("fleet: creating session for %s: %w", acct.Username, err)
	}

	sup.mu.Lock()
	sup.sessions[s.ID] = s
	sup.order = append(sup.order, s.ID)
	sup.mu.Unlock()

	go sup.watch(s)

	return s.ID, nil
}

func (sup *Supervisor) redistribute(sessionIDs []string) {
	assignments := sup.pool.DistributeInitial(sessionIDs)
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for sid, url := range assignments {
		if s, ok := sup.sessions[sid]; ok {
			_ = s.UpdateProxy(url)
		}
	}
}

func (sup *Supervisor) watch(s *session.Session) {
	for ev := range s.Events() {
		sup.handleEvent(s, ev)
	}
}

func (sup *Supervisor) handleEvent(s *session.Session, ev session.LifecycleEvent) {
	switch ev.Kind {
	case session.EventReady:
		sup.mu.Lock()
		wasZero := sup.readyCount == 0
		sup.readyCount++
		sup.mu.Unlock()
		if wasZero {
			sup.log.Info().Msg("fleet ready")
		}

	case session.EventUnready:
		sup.mu.Lock()
		sup.readyCount--
		if sup.readyCount < 0 {
			sup.readyCount = 0
		}
		isZero := sup.readyCount == 0
		sup.mu.Unlock()
		if isZero {
			sup.log.Warn().Msg("fleet unready")
		}
		time.AfterFunc(recoveryRecheckDelay, sup.checkAndMaintainBotCount)

	case session.EventLoginSuccess:
		if sup.pool != nil {
			sup.pool.RecordLoginSuccess(s.ID)
		}
		sup.mu.Lock()
		delete(sup.pendingAuth, s.Account.Username)
		sup.mu.Unlock()

	case session.EventLoginFailed:
		sup.reactToLoginFailed(s, ev)

	case session.EventAuthFailed:
		sup.mu.Lock()
		sup.failedAccounts[s.Account.Username] = failedAccount{Reason: "auth", Timestamp: time.Now()}
		sup.mu.Unlock()
		sup.log.Error().Str("account", s.Account.Username).Err(ev.Err).Msg("account permanently failed")
		sup.trySpareAccount()

	case session.EventPendingAuth:
		sup.mu.Lock()
		sup.pendingAuth[s.Account.Username] = PendingAuth{Account: s.Account, AuthType: "mobile", Timestamp: time.Now()}
		sup.mu.Unlock()
	}
}

func (sup *Supervisor) reactToLoginFailed(s *session.Session, ev session.LifecycleEvent) {
	if sup.pool == nil {
		time.AfterFunc(sup.policyDelay, func() { _ = s.LogIn(context.Background(), "") })
		return
	}

	result := sup.pool.HandleLoginFailure(s.ID, string(ev.Reason))
	delay := reloginDelay(ev.Reason, result.RetryCount, sup.policyDelay)

	if !result.ShouldRetry {
		sup.mu.Lock()
		sup.failedAccounts[s.Account.Username] = failedAccount{Reason: string(ev.Reason), Timestamp: time.Now()}
		sup.mu.Unlock()
		sup.trySpareAccount()
		return
	}

	time.AfterFunc(delay, func() {
		if result.NewProxyURL != "" || result.NewGroupID != 0 {
			_ = s.UpdateProxy(result.NewProxyURL)
		}
		_ = s.LogIn(context.Background(), "")
	})
}

// SubmitAuthCode retries a pending-auth session with an operator-supplied code.
func (sup *Supervisor) SubmitAuthCode(username, code string) error {
	sup.mu.Lock()
	_, pending := sup.pendingAuth[username]
	s := sup.sessionByUsernameLocked(username)
	sup.mu.Unlock()

	if !pending || s == nil {
		return fmt.Errorf("fleet: no pending auth for %s", username)
	}
	return s.LogIn(context.Background(), code)
}

func (sup *Supervisor) sessionByUsernameLocked(username string) *session.Session {
	for _, id := range sup.order {
		s := sup.sessions[id]
		if s != nil && s.Account.Username == username {
			return s
		}
	}
	return nil
}

// trySpareAccount pushes one spare account onto the activation queue and
// ensures a single drain task is running.
func (sup *Supervisor) trySpareAccount() {
	sup.mu.Lock()
	if len(sup.spareAccounts) == 0 {
		sup.mu.Unlock()
		return
	}
	acct := sup.spareAccounts[0]
	sup.spareAccounts = sup.spareAccounts[1:]
	sup.spareQueue = append(sup.spareQueue, acct)
	alreadyDraining := sup.spareQueueBusy
	if !alreadyDraining {
		sup.spareQueueBusy = true
	}
	sup.mu.Unlock()

	if !alreadyDraining {
		go sup.drainSpareQueue()
	}
}

func (sup *Supervisor) drainSpareQueue() {
	for {
		sup.mu.Lock()
		if len(sup.spareQueue) == 0 {
			sup.spareQueueBusy = false
			sup.mu.Unlock()
			return
		}
		if sup.readyCount >= sup.maxOnlineBots {
			sup.spareQueue = nil
			sup.spareQueueBusy = false
			sup.mu.Unlock()
			return
		}
		acct := sup.spareQueue[0]
		sup.spareQueue = sup.spareQueue[1:]
		sup.mu.Unlock()

		sup.addBot(acct)

		time.Sleep(spareAccountDelay)
	}
}

func (sup *Supervisor) addBot(acct *types.Account) {
	sid, err := sup.spawnSession(context.Background(), acct)
	if err != nil {
		sup.log.Error().Err(err).Str("account", acct.Username).Msg("failed to activate spare")
		return
	}

	sup.mu.Lock()
	s := sup.sessions[sid]
	sup.mu.Unlock()
	if sup.pool != nil {
		groupID := sup.leastLoadedGroupID()
		if url, err := sup.pool.Bind(sid, groupID); err == nil {
			_ = s.UpdateProxy(url)
		}
	}

	_ = s.LogIn(context.Background(), "")
}

func (sup *Supervisor) leastLoadedGroupID() int {
	groups := sup.pool.Groups()
	if len(groups) == 0 {
		return 0
	}
	best := groups[0]
	for _, g := range groups[1:] {
		if len(g.BoundSessionIDs) < len(best.BoundSessionIDs) {
			best = g
		}
	}
	return best.ID
}

// checkAndMaintainBotCount tops up the spare activation queue toward
// maxOnlineBots, never queuing more than the available spare accounts.
func (sup *Supervisor) checkAndMaintainBotCount() {
	sup.mu.Lock()
	needed := sup.maxOnlineBots - sup.readyCount - len(sup.spareQueue)
	if needed > len(sup.spareAccounts) {
		needed = len(sup.spareAccounts)
	}
	sup.mu.Unlock()

	for i := 0; i < needed; i++ {
		sup.trySpareAccount()
	}
}

func (sup *Supervisor) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sup.stopCh:
			return
		case <-ticker.C:
			sup.checkAndMaintainBotCount()
		}
	}
}

// Stop halts the maintenance loop. Sessions are left as-is.
func (sup *Supervisor) Stop() {
	sup.stopOnce.Do(func() { close(sup.stopCh) })
}

// ReadyCount is the number of sessions currently in the READY state,
// regardless of their busy flag.
func (sup *Supervisor) ReadyCount() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.readyCount
}

// TotalCount is the number of sessions ever spawned.
func (sup *Supervisor) TotalCount() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.order)
}

// BusyCount counts sessions currently holding an in-flight inspect or
// within its post-reply spacing delay.
func (sup *Supervisor) BusyCount() int {
	sup.mu.Lock()
	sessions := make([]*session.Session, 0, len(sup.order))
	for _, id := range sup.order {
		sessions = append(sessions, sup.sessions[id])
	}
	sup.mu.Unlock()

	count := 0
	for _, s := range sessions {
		if s != nil && s.Busy() {
			count++
		}
	}
	return count
}

// FailedCount is the number of permanently failed accounts.
func (sup *Supervisor) FailedCount() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.failedAccounts)
}

// SpareCount is the number of untouched spare accounts.
func (sup *Supervisor) SpareCount() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.spareAccounts)
}

// QueuedSpareCount is the number of spares awaiting staggered activation.
func (sup *Supervisor) QueuedSpareCount() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.spareQueue)
}

// PendingAuthList lists sessions parked waiting for an operator code.
func (sup *Supervisor) PendingAuthList() map[string]PendingAuth {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	out := make(map[string]PendingAuth, len(sup.pendingAuth))
	for k, v := range sup.pendingAuth {
		out[k] = v
	}
	return out
}

// Status reports the coarse fleet health.
func (sup *Supervisor) Status() Status {
	ready := sup.ReadyCount()
	switch {
	case ready == 0:
		return StatusDegraded
	case ready < sup.maxOnlineBots:
		return StatusRecovering
	default:
		return StatusOptimal
	}
}

// SessionFor exposes a session by id for the dispatcher, which only ever
// learns ids from the pool (never a session pointer).
func (sup *Supervisor) SessionFor(id string) *session.Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.sessions[id]
}

// Available reports ready ∧ ¬busy for the given session id, the
// callback shape proxypool.AvailabilityFunc needs.
func (sup *Supervisor) Available(id string) bool {
	sup.mu.Lock()
	s := sup.sessions[id]
	sup.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Available()
}

