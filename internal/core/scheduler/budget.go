package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// Budget is a carrier's outbound request allowance.
//
// The bucket holds at most burst = max(1, rpm/6) tokens and refills at
// (rpm-burst)/60 tokens per second, so any 60-second window admits at most
// burst + 60*refill = rpm requests.
type Budget struct {
	perMinute int
	limiter   *rate.Limiter
}

// NewBudget returns a budget admitting at most perMinute requests in any
// rolling minute. perMinute <= 0 means unlimited.
func NewBudget(perMinute int) *Budget {
	if perMinute <= 0 {
		return &Budget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	refill := rate.Limit(float64(perMinute-burst) / 60)
	if refill == 0 {
		// One request per minute: refill slower than 1/60s so a full token
		// is never back within the same window.
		refill = rate.Limit(1.0 / 61)
	}
	return &Budget{perMinute: perMinute, limiter: rate.NewLimiter(refill, burst)}
}

// Allow spends one token at now if available.
func (b *Budget) Allow(now time.Time) bool {
	return b.limiter.AllowN(now, 1)
}

// PerMinute returns the configured ceiling, 0 when unlimited.
func (b *Budget) PerMinute() int { return b.perMinute }
