package capture

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Verdict is the ingress guard's decision for one client log.
type Verdict int

const (
	Accepted Verdict = iota
	Throttled
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Throttled:
		return "throttled"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Guard throttles client capture logs per proxy with a token bucket and
// suppresses repeats of one method+URL inside a bounded expiring window.
type Guard struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	recent   *expirable.LRU[string, struct{}]
	now      func() time.Time
}

// NewGuard builds a guard allowing perSecond logs per proxy with the given
// burst, remembering up to dedupSize keys for dedupWindow.
func NewGuard(perSecond float64, burst, dedupSize int, dedupWindow time.Duration) *Guard {
	if burst <= 0 {
		burst = 1
	}
	if dedupSize <= 0 {
		dedupSize = 1
	}
	return &Guard{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		recent:   expirable.NewLRU[string, struct{}](dedupSize, nil, dedupWindow),
		now:      time.Now,
	}
}

// Allow decides whether a log for proxyID may be recorded. Duplicates do
// not consume rate tokens.
func (g *Guard) Allow(proxyID, method, rawURL string) Verdict {
	key := proxyID + " " + strings.ToUpper(method) + " " + rawURL
	if _, ok := g.recent.Get(key); ok {
		return Duplicate
	}
	if !g.limiter(proxyID).AllowN(g.now(), 1) {
		return Throttled
	}
	g.recent.Add(key, struct{}{})
	return Accepted
}

func (g *Guard) limiter(proxyID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[proxyID]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[proxyID] = l
	}
	return l
}

// Forget drops the limiter state of a deleted proxy.
func (g *Guard) Forget(proxyID string) {
	g.mu.Lock()
	delete(g.limiters, proxyID)
	g.mu.Unlock()
}
