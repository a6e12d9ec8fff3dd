package panel

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
)

const (
	HeaderRateLimit          = "x-ratelimit-limit"
	HeaderRateLimitRemaining = "x-ratelimit-remaining"

	defaultRateLimit = 60
)

// RateLimit mirrors the panel's request quota as reported in response
// headers. Before the first response both values are 60.
type RateLimit struct {
	mu        sync.Mutex
	limit     int
	remaining int
	print     bool
}

// RateLimitSnapshot is a point-in-time copy of the quota
type RateLimitSnapshot struct {
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	CanMake   bool `json:"can_make_request"`
}

func NewRateLimit(print bool) *RateLimit {
	rl := &RateLimit{limit: defaultRateLimit, remaining: defaultRateLimit, print: print}
	metrics.PanelRateLimitLimit.Set(defaultRateLimit)
	metrics.PanelRateLimitRemaining.Set(defaultRateLimit)
	return rl
}

// CanMakeRequest reports whether the last known quota has requests left
func (r *RateLimit) CanMakeRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining > 0
}

func (r *RateLimit) Snapshot() RateLimitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimitSnapshot{Limit: r.limit, Remaining: r.remaining, CanMake: r.remaining > 0}
}

// Update applies the rate limit headers of a panel response. Missing or
// unparsable headers leave the corresponding value untouched.
func (r *RateLimit) Update(h http.Header) {
	limit, limitOK := headerInt(h, HeaderRateLimit)
	remaining, remainingOK := headerInt(h, HeaderRateLimitRemaining)

	r.mu.Lock()
	if limitOK {
		r.limit = limit
	}
	if remainingOK {
		r.remaining = remaining
	}
	limit, remaining = r.limit, r.remaining
	r.mu.Unlock()

	metrics.PanelRateLimitLimit.Set(float64(limit))
	metrics.PanelRateLimitRemaining.Set(float64(remaining))
	if r.print {
		logger.Info("[PANEL] Rate limit updated", "limit", limit, "remaining", remaining)
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Debug("[PANEL] Ignoring unparsable rate limit header", "header", key, "value", v)
		return 0, false
	}
	return n, true
}
