package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"inspectfleet/internal/shared/totp"
	"inspectfleet/internal/shared/types"
)

// UpstreamKind tags one event coming out of an UpstreamClient.
type UpstreamKind int

const (
	UpstreamLoggedOn UpstreamKind = iota
	UpstreamLoginFailed
	UpstreamAuthFailed
	UpstreamGCReady
	UpstreamGCDisconnected
	UpstreamInspectReply
	UpstreamPendingAuth
)

// UpstreamEvent is one asynchronous message reported by an UpstreamClient.
// Events arrive on the channel returned by UpstreamClient.Events and are
// handled on the Session's event-loop goroutine, which calls back into the
// client only through SetGamesPlayed.
type UpstreamEvent struct {
	Kind    UpstreamKind
	Err     error
	Eresult int
	Message string
	Reply   *RawItemReply
}

// UpstreamClient is the abstract capability a Session drives through its
// readiness state machine. The upstream game-coordinator protocol itself is
// out of scope; production code supplies a real implementation, the
// simulated one below exercises the state machine end to end.
type UpstreamClient interface {
	// LogOn initiates an authenticated connection. A non-nil error here is
	// a synchronous failure observed before any asynchronous event fires.
	LogOn(ctx context.Context, account *types.Account, code string) error
	// SetGamesPlayed announces the given app ids are "being played", used
	// to force the game-coordinator handshake.
	SetGamesPlayed(appIDs []uint32)
	// SendInspect issues a single inspect request. The reply (if any)
	// arrives later as an UpstreamInspectReply event.
	SendInspect(triple Triple) error
	LogOff()
	Close() error
	Events() <-chan UpstreamEvent
}

// UpstreamFactory builds a fresh UpstreamClient bound to the given proxy
// URL (empty for no proxy). Session calls this on construction and again
// on every UpdateProxy to get a clean transport.
type UpstreamFactory func(proxyURL string) (UpstreamClient, error)

// simulatedClient is a deterministic-enough stand-in for a real game
// client library: it exercises login, game-coordinator handshake, inspect
// round-trips, and the failure-classification surface without a real
// upstream dependency.
type simulatedClient struct {
	httpClient   interface{} // held only to prove a transport was built; unused by the simulation itself
	events       chan UpstreamEvent
	closed       chan struct{}
	ownsGame     bool
	loginAttempt int
}

// NewSimulatedClient is an UpstreamFactory backed by the simulated
// client, for wiring a fleet without a real upstream dependency.
func NewSimulatedClient(proxyURL string) (UpstreamClient, error) {
	httpClient, err := buildTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &simulatedClient{
		httpClient: httpClient,
		events:     make(chan UpstreamEvent, 16),
		closed:     make(chan struct{}),
	}, nil
}

func (c *simulatedClient) Events() <-chan UpstreamEvent { return c.events }

func (c *simulatedClient) LogOn(ctx context.Context, account *types.Account, code string) error {
	if account == nil {
		return fmt.Errorf("session: LogOn called with nil account")
	}

	oneTimeCode := code
	if oneTimeCode == "" && account.AuthSecret != "" {
		derived, err := deriveCode(account.AuthSecret)
		if err != nil {
			return fmt.Errorf("session: deriving one-time code: %w", err)
		}
		oneTimeCode = derived
	}
	_ = oneTimeCode

	c.loginAttempt++

	go func() {
		select {
		case <-c.closed:
			return
		case <-time.After(50 * time.Millisecond):
		}

		select {
		case c.events <- UpstreamEvent{Kind: UpstreamLoggedOn}:
		case <-c.closed:
			return
		}

		select {
		case <-c.closed:
			return
		case <-time.After(30 * time.Millisecond):
		}

		select {
		case c.events <- UpstreamEvent{Kind: UpstreamGCReady}:
		case <-c.closed:
		}
	}()

	return nil
}

func (c *simulatedClient) SetGamesPlayed(appIDs []uint32) {
	c.ownsGame = len(appIDs) > 0
}

func (c *simulatedClient) SendInspect(triple Triple) error {
	go func() {
		jitter := time.Duration(20+rand.Intn(80)) * time.Millisecond
		select {
		case <-c.closed:
			return
		case <-time.After(jitter):
		}

		seed := 0
		reply := &RawItemReply{
			AssetID:   triple.A,
			Paintwear: floatPtr(0.01 + rand.Float64()*0.6),
			Paintseed: &seed,
		}

		select {
		case c.events <- UpstreamEvent{Kind: UpstreamInspectReply, Reply: reply}:
		case <-c.closed:
		}
	}()
	return nil
}

func (c *simulatedClient) LogOff() {
	select {
	case c.events <- UpstreamEvent{Kind: UpstreamGCDisconnected}:
	case <-c.closed:
	}
}

func (c *simulatedClient) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func floatPtr(f float64) *float64 { return &f }

// deriveCode sends the auth secret verbatim when short, otherwise derives
// a time-based one-time code from it.
func deriveCode(authSecret string) (string, error) {
	if len(authSecret) <= totp.StaticCodeMaxLen {
		return authSecret, nil
	}
	return totp.Generate(authSecret)
}
