package fleet

import (
	"time"

	"inspectfleet/internal/core/session"
)

const (
	steamguardDelay  = 15 * time.Second
	proxyDelay       = 10 * time.Second
	ratelimitBase    = 30 * time.Second
	ratelimitCeiling = 120 * time.Second
)

// reloginDelay centralizes the reason→delay policy table. retryCount is
// the pool's per-session counter, 1-indexed, used for the ratelimit
// exponential backoff.
func reloginDelay(reason session.FailureReason, retryCount int, policyDefault time.Duration) time.Duration {
	switch reason {
	case session.ReasonSteamGuard:
		return steamguardDelay
	case session.ReasonProxy:
		return proxyDelay
	case session.ReasonRateLimit:
		if retryCount < 1 {
			retryCount = 1
		}
		d := ratelimitBase * time.Duration(1<<uint(retryCount-1))
		if d > ratelimitCeiling {
			d = ratelimitCeiling
		}
		return d
	default:
		return policyDefault
	}
}
