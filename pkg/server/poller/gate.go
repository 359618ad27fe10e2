package poller

import "time"

func NewRateGate(interval time.Duration, now func() time.Time) *RateGate {
	if now == nil {
		now = time.Now
	}

	return &RateGate{
		interval: interval,
		now:      now,
	}
}

// Allow reports whether the guarded call may run now. An allowed call is
// recorded immediately, so a failing call is not retried until the interval
// has passed.
func (g *RateGate) Allow() bool {
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}

	g.last = now
	return true
}
