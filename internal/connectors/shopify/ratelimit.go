package shopify

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
)

const (
	// HeaderCallLimit reports bucket usage as "used/capacity", e.g. "32/40".
	HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

	// MinBuffer is the number of free bucket slots kept in reserve.
	MinBuffer = 2

	// leakRate is how fast the Shopify bucket drains (calls per second).
	leakRate = 2.0
)

// RateLimiter paces calls against the Shopify leaky bucket. It throttles
// proactively with a token bucket and reacts to the call-limit header when
// the remote bucket is nearly full.
type RateLimiter struct {
	*rest.Limiter

	mu       sync.Mutex
	used     int
	capacity int
}

// NewRateLimiter creates a limiter allowing callsPerMinute.
func NewRateLimiter(callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		Limiter:  rest.NewLimiter(callsPerMinute),
		capacity: 40,
	}
}

// UpdateFromResponse updates bucket usage from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}
	used, capacity, ok := parseCallLimit(resp.Header.Get(HeaderCallLimit))
	if !ok {
		return
	}

	r.mu.Lock()
	r.used = used
	r.capacity = capacity
	r.mu.Unlock()

	if over := used - (capacity - MinBuffer); over >= 0 {
		r.Pause(time.Duration(float64(over+1) / leakRate * float64(time.Second)))
	}
}

// Usage returns the last reported bucket usage.
func (r *RateLimiter) Usage() (used, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used, r.capacity
}

func parseCallLimit(v string) (used, capacity int, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(v), "/")
	if !found {
		return 0, 0, false
	}
	used, err1 := strconv.Atoi(a)
	capacity, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || capacity <= 0 {
		return 0, 0, false
	}
	return used, capacity, true
}
