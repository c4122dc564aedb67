// Package session implements UpstreamSession (C1): one authenticated
// upstream client, its readiness state machine, proxy rebinding, and the
// normalized inspect round trip.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"inspectfleet/internal/shared/types"
)

// State is a position in the readiness state machine.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateLoggedOn
	StateLicenseRequested
	StateGCConnecting
	StateReady
	StateGCDisconnected
	StateDisconnected
)

const (
	reloginBaseInterval = 30 * time.Minute
	reloginJitterMax    = 4 * time.Minute
)

type inspectResult struct {
	item  ItemData
	delay time.Duration
	err   error
}

// Session is one authenticated upstream client bound to one Account.
type Session struct {
	ID      string
	Account *types.Account

	factory       UpstreamFactory
	requestDelay  time.Duration
	ttl           time.Duration
	events        chan LifecycleEvent

	mu             sync.Mutex
	client         UpstreamClient
	loopStop       chan struct{}
	state          State
	ready          bool
	busy           bool
	relogin        bool
	ownsGame       bool
	proxyURL       string
	currentRequest *PendingRequest
	resolve        func(ItemData, time.Duration)
	reject         func(error)
	ttlTimer       *time.Timer
	reloginTimer   *time.Timer
}

// New constructs a Session bound to account, with no proxy, not yet logged in.
func New(account *types.Account, factory UpstreamFactory, requestDelay, ttl time.Duration) (*Session, error) {
	client, err := factory("")
	if err != nil {
		return nil, fmt.Errorf("session: building initial transport: %w", err)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Account:      account,
		factory:      factory,
		requestDelay: requestDelay,
		ttl:          ttl,
		events:       make(chan LifecycleEvent, 8),
		client:       client,
		state:        StateNew,
	}

	s.startLoop(client)
	return s, nil
}

// Events returns the channel of lifecycle notifications the Session emits.
// The supervisor is the sole consumer.
func (s *Session) Events() <-chan LifecycleEvent { return s.events }

func (s *Session) emit(ev LifecycleEvent) {
	ev.Session = s
	select {
	case s.events <- ev:
	default:
		// Supervisor is expected to keep pace; dropping here would hide a
		// state transition, so block until it is read instead of discarding.
		s.events <- ev
	}
}

func (s *Session) startLoop(client UpstreamClient) {
	stop := make(chan struct{})
	s.loopStop = stop
	go s.runLoop(client, stop)
}

func (s *Session) runLoop(client UpstreamClient, stop <-chan struct{}) {
	events := client.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleUpstreamEvent(ev)
		case <-stop:
			return
		}
	}
}

// LogIn initiates an authenticated connection. An explicit oneTimeCode
// overrides both the static-code and derived-TOTP paths. Lifecycle
// listeners must already be attached (Events() called) before this runs,
// so synchronous failures are observable by the caller via the emitted
// loginFailed/authFailed event as well as the returned error.
func (s *Session) LogIn(ctx context.Context, oneTimeCode string) error {
	s.mu.Lock()
	s.state = StateConnecting
	client := s.client
	s.mu.Unlock()

	if err := client.LogOn(ctx, s.Account, oneTimeCode); err != nil {
		reason := classifyFailure(0, err.Error())
		s.mu.Lock()
		s.state = StateDisconnected
		s.ready = false
		s.mu.Unlock()
		if reason == ReasonAuth {
			s.emit(LifecycleEvent{Kind: EventAuthFailed, Err: err})
		} else {
			s.emit(LifecycleEvent{Kind: EventLoginFailed, Err: err, Reason: reason})
		}
		return err
	}
	return nil
}

func (s *Session) handleUpstreamEvent(ev UpstreamEvent) {
	switch ev.Kind {
	case UpstreamLoggedOn:
		s.onLoggedOn()
	case UpstreamGCReady:
		s.onGCReady()
	case UpstreamGCDisconnected:
		s.onGCDisconnected()
	case UpstreamLoginFailed, UpstreamAuthFailed:
		s.onLoginFailed(ev)
	case UpstreamInspectReply:
		s.onInspectReply(ev.Reply)
	case UpstreamPendingAuth:
		s.emit(LifecycleEvent{Kind: EventPendingAuth})
	}
}

func (s *Session) onLoggedOn() {
	s.mu.Lock()
	s.state = StateLoggedOn
	ownsGame := s.ownsGame
	client := s.client
	s.mu.Unlock()

	// "games played [] then [730]" forces the game-coordinator handshake.
	client.SetGamesPlayed(nil)
	client.SetGamesPlayed([]uint32{730})

	s.mu.Lock()
	if !ownsGame {
		s.state = StateLicenseRequested
	}
	s.state = StateGCConnecting
	s.mu.Unlock()
}

func (s *Session) onGCReady() {
	s.mu.Lock()
	wasReady := s.ready
	s.state = StateReady
	s.ready = true
	s.ownsGame = true
	s.relogin = false
	s.mu.Unlock()

	if !wasReady {
		s.emit(LifecycleEvent{Kind: EventReady})
	}
	s.emit(LifecycleEvent{Kind: EventLoginSuccess})
	s.scheduleRelogin()
}

func (s *Session) onGCDisconnected() {
	s.mu.Lock()
	wasReady := s.ready
	s.ready = false
	s.state = StateGCDisconnected
	s.mu.Unlock()

	if wasReady {
		s.emit(LifecycleEvent{Kind: EventUnready})
	}

	// Auto-reconnect: GC_DISCONNECTED drives straight back into a logon
	// cycle without supervisor involvement.
	go func() {
		_ = s.LogIn(context.Background(), "")
	}()
}

func (s *Session) onLoginFailed(ev UpstreamEvent) {
	reason := classifyFailure(ev.Eresult, ev.Message)

	s.mu.Lock()
	wasReady := s.ready
	s.ready = false
	s.state = StateDisconnected
	s.mu.Unlock()

	if wasReady {
		s.emit(LifecycleEvent{Kind: EventUnready})
	}

	if reason == ReasonAuth {
		s.emit(LifecycleEvent{Kind: EventAuthFailed, Err: ev.Err})
		return
	}
	s.emit(LifecycleEvent{Kind: EventLoginFailed, Err: ev.Err, Reason: reason})
}

func (s *Session) onInspectReply(reply *RawItemReply) {
	if reply == nil {
		return
	}

	s.mu.Lock()
	if s.currentRequest == nil || reply.AssetID != s.currentRequest.Triple.A {
		// Reply does not match the in-flight request: drop silently.
		s.mu.Unlock()
		return
	}
	issuedAt := s.currentRequest.IssuedAt
	resolve := s.resolve
	s.currentRequest = nil
	s.resolve = nil
	s.reject = nil
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
		s.ttlTimer = nil
	}
	s.mu.Unlock()

	delay := s.requestDelay - time.Since(issuedAt)
	if delay < 0 {
		delay = 0
	}

	item := normalize(reply)
	if resolve != nil {
		resolve(*item, delay)
	}

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	})
}

// Ready reports whether the session is currently accepting inspects.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Busy reports whether the session is holding an in-flight inspect or its
// post-reply spacing delay.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Available reports ready ∧ ¬busy, the condition a selection strategy checks.
func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.busy
}

// Inspect issues a single inspect identified by triple. Valid only when
// ready ∧ ¬busy.
func (s *Session) Inspect(ctx context.Context, triple Triple) (ItemData, time.Duration, error) {
	s.mu.Lock()
	if !s.ready || s.busy {
		s.mu.Unlock()
		return ItemData{}, 0, fmt.Errorf("session: not available for inspect")
	}

	s.busy = true
	s.currentRequest = &PendingRequest{Triple: triple, IssuedAt: time.Now()}

	resultCh := make(chan inspectResult, 1)
	s.resolve = func(item ItemData, delay time.Duration) {
		select {
		case resultCh <- inspectResult{item: item, delay: delay}:
		default:
		}
	}
	s.reject = func(err error) {
		select {
		case resultCh <- inspectResult{err: err}:
		default:
		}
	}
	s.ttlTimer = time.AfterFunc(s.ttl, s.timeoutCurrentRequest)
	client := s.client
	s.mu.Unlock()

	if err := client.SendInspect(triple); err != nil {
		s.mu.Lock()
		s.currentRequest = nil
		s.resolve = nil
		s.reject = nil
		s.busy = false
		if s.ttlTimer != nil {
			s.ttlTimer.Stop()
			s.ttlTimer = nil
		}
		s.mu.Unlock()
		return ItemData{}, 0, err
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return ItemData{}, 0, res.err
		}
		return res.item, res.delay, nil
	case <-ctx.Done():
		return ItemData{}, 0, ctx.Err()
	}
}

func (s *Session) timeoutCurrentRequest() {
	s.mu.Lock()
	if s.currentRequest == nil {
		s.mu.Unlock()
		return
	}
	reject := s.reject
	s.currentRequest = nil
	s.resolve = nil
	s.reject = nil
	s.busy = false
	s.mu.Unlock()

	if reject != nil {
		reject(fmt.Errorf("ttl exceeded"))
	}
}

// UpdateProxy tears down the current transport and recreates it bound to
// the given proxy (empty for no proxy), rebinding the event loop.
func (s *Session) UpdateProxy(proxyURL string) error {
	newClient, err := s.factory(proxyURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldClient := s.client
	oldStop := s.loopStop
	s.client = newClient
	s.proxyURL = proxyURL
	s.mu.Unlock()

	if oldStop != nil {
		close(oldStop)
	}
	if oldClient != nil {
		_ = oldClient.Close()
	}

	s.startLoop(newClient)
	return nil
}

func (s *Session) scheduleRelogin() {
	jitter := time.Duration(rand.Int63n(int64(reloginJitterMax)))
	delay := reloginBaseInterval + jitter

	s.mu.Lock()
	if s.reloginTimer != nil {
		s.reloginTimer.Stop()
	}
	s.reloginTimer = time.AfterFunc(delay, s.runRelogin)
	s.mu.Unlock()
}

func (s *Session) runRelogin() {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateGCDisconnected {
		s.mu.Unlock()
		return
	}
	s.relogin = true
	client := s.client
	s.mu.Unlock()

	client.LogOff()
}

// Close tears down the session's transport and stops its event loop.
func (s *Session) Close() error {
	s.mu.Lock()
	client := s.client
	stop := s.loopStop
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
	}
	if s.reloginTimer != nil {
		s.reloginTimer.Stop()
	}
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if client != nil {
		return client.Close()
	}
	return nil
}
