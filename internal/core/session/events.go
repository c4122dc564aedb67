package session

import "strings"

// FailureReason classifies an upstream login failure for the supervisor's
// retry policy.
type FailureReason string

const (
	ReasonSteamGuard FailureReason = "steamguard"
	ReasonRateLimit  FailureReason = "ratelimit"
	ReasonProxy      FailureReason = "proxy"
	ReasonAuth       FailureReason = "auth"
	ReasonOther      FailureReason = "other"
)

// classifyFailure maps an eresult code and/or error text to a FailureReason,
// per the failure classification table.
func classifyFailure(eresult int, message string) FailureReason {
	switch eresult {
	case 63, 65:
		return ReasonSteamGuard
	case 84, 87:
		return ReasonRateLimit
	case 61, 66:
		return ReasonAuth
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "ratelimitexceeded"), strings.Contains(lower, "accountlogindeniedthrottle"):
		return ReasonRateLimit
	case strings.Contains(lower, "proxy"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "500 internal server error"),
		strings.Contains(lower, "self-signed certificate"):
		return ReasonProxy
	}
	return ReasonOther
}

// Kind tags a lifecycle event emitted by a Session.
type Kind int

const (
	EventReady Kind = iota
	EventUnready
	EventLoginSuccess
	EventLoginFailed
	EventAuthFailed
	EventPendingAuth
)

func (k Kind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventUnready:
		return "unready"
	case EventLoginSuccess:
		return "loginSuccess"
	case EventLoginFailed:
		return "loginFailed"
	case EventAuthFailed:
		return "authFailed"
	case EventPendingAuth:
		return "pendingAuth"
	default:
		return "unknown"
	}
}

// LifecycleEvent is one message a Session emits to its supervisor.
type LifecycleEvent struct {
	Kind    Kind
	Session *Session
	Err     error
	Reason  FailureReason
}
