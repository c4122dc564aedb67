// Package model holds the scheduling unit the Proxy Pool Scheduler
// partitions sessions across.
package model

import "time"

// ProxyGroup is one outbound proxy plus the sessions bound to it.
type ProxyGroup struct {
	ID       int    // dense index
	ProxyURL string // "" means no proxy; otherwise http:// or socks5://

	BoundSessionIDs []string // weak back-reference: session ids, never session pointers

	ActiveRequests   int
	TotalRequests    int64
	LastRequestTime  time.Time
	Failures         int64
	LoginFailures    int
	SuccessfulLogins int

	Failed bool
}

// SuccessRate is successfulLogins / (successfulLogins + loginFailures),
// treated as 0 when the denominator is 0.
func (g *ProxyGroup) SuccessRate() float64 {
	denom := g.SuccessfulLogins + g.LoginFailures
	if denom == 0 {
		return 0
	}
	return float64(g.SuccessfulLogins) / float64(denom)
}

// Load is activeRequests / max(1, |bots|), the metric least_loaded minimizes.
func (g *ProxyGroup) Load() float64 {
	bots := len(g.BoundSessionIDs)
	if bots < 1 {
		bots = 1
	}
	return float64(g.ActiveRequests) / float64(bots)
}

// Bind records sessionID as bound to this proxy group.
func (g *ProxyGroup) Bind(sessionID string) {
	g.BoundSessionIDs = append(g.BoundSessionIDs, sessionID)
}

// Unbind removes sessionID from this proxy group's bound sessions.
func (g *ProxyGroup) Unbind(sessionID string) {
	for i, id := range g.BoundSessionIDs {
		if id == sessionID {
			g.BoundSessionIDs = append(g.BoundSessionIDs[:i], g.BoundSessionIDs[i+1:]...)
			return
		}
	}
}
