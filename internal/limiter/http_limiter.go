// Package limiter enforces the broker's published REST throttles for the
// snapshot endpoints the console consumes.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Broker throttle tiers (per the upstream API docs).
const (
	// Data APIs: 5/sec, 100k/day
	DataAPIsPerSecond = 5
	DataAPIsPerDay    = 100000

	// Option-chain endpoints: 1 request per 3 seconds
	OptionChainInterval = 3 * time.Second

	// Everything else: 20/sec
	NonTradingAPIsPerSecond = 20
)

// EndpointCategory represents the throttle tier of an API endpoint.
type EndpointCategory int

const (
	CategoryData EndpointCategory = iota
	CategoryOptionChain
	CategoryNonTrading
)

func (c EndpointCategory) String() string {
	switch c {
	case CategoryData:
		return "Data"
	case CategoryOptionChain:
		return "OptionChain"
	case CategoryNonTrading:
		return "NonTrading"
	default:
		return "Unknown"
	}
}

// HTTPRateLimiter gates snapshot REST calls by endpoint category.
type HTTPRateLimiter struct {
	dataLimiter  *rate.Limiter
	dataDaily    *slidingWindowCounter
	chainLimiter *rate.Limiter
	otherLimiter *rate.Limiter

	mu         sync.RWMutex
	categories map[string]EndpointCategory
}

// NewHTTPRateLimiter creates a limiter with the broker's default tiers.
func NewHTTPRateLimiter() *HTTPRateLimiter {
	rl := &HTTPRateLimiter{
		dataLimiter:  rate.NewLimiter(rate.Limit(DataAPIsPerSecond), DataAPIsPerSecond),
		dataDaily:    newSlidingWindowCounter(DataAPIsPerDay, 24*time.Hour),
		chainLimiter: rate.NewLimiter(rate.Every(OptionChainInterval), 1),
		otherLimiter: rate.NewLimiter(rate.Limit(NonTradingAPIsPerSecond), NonTradingAPIsPerSecond),
		categories: map[string]EndpointCategory{
			"/optionchain":            CategoryOptionChain,
			"/optionchain/expirylist": CategoryOptionChain,
			"/marketfeed/ltp":         CategoryData,
			"/marketfeed/ohlc":        CategoryData,
			"/marketfeed/quote":       CategoryData,
		},
	}
	return rl
}

// SetEndpointCategory overrides the tier for an endpoint path.
func (rl *HTTPRateLimiter) SetEndpointCategory(endpoint string, category EndpointCategory) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.categories[endpoint] = category
}

// Wait blocks until the request is allowed, or the context is cancelled.
func (rl *HTTPRateLimiter) Wait(ctx context.Context, endpoint string) error {
	switch rl.categorize(endpoint) {
	case CategoryOptionChain:
		if err := rl.chainLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("option-chain rate limit: %w", err)
		}
		return nil
	case CategoryData:
		if err := rl.dataLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("data API rate limit: %w", err)
		}
		if !rl.dataDaily.allow() {
			return fmt.Errorf("data API rate limit exceeded (100k req/day)")
		}
		return nil
	default:
		if err := rl.otherLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("API rate limit: %w", err)
		}
		return nil
	}
}

// Allow checks whether a request is allowed without blocking.
func (rl *HTTPRateLimiter) Allow(endpoint string) error {
	switch rl.categorize(endpoint) {
	case CategoryOptionChain:
		if !rl.chainLimiter.Allow() {
			return fmt.Errorf("option-chain rate limit exceeded (1 req/3s)")
		}
		return nil
	case CategoryData:
		if !rl.dataLimiter.Allow() {
			return fmt.Errorf("data API rate limit exceeded (%d req/sec)", DataAPIsPerSecond)
		}
		if !rl.dataDaily.allow() {
			return fmt.Errorf("data API rate limit exceeded (100k req/day)")
		}
		return nil
	default:
		if !rl.otherLimiter.Allow() {
			return fmt.Errorf("API rate limit exceeded (%d req/sec)", NonTradingAPIsPerSecond)
		}
		return nil
	}
}

func (rl *HTTPRateLimiter) categorize(endpoint string) EndpointCategory {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if category, ok := rl.categories[endpoint]; ok {
		return category
	}
	for pattern, category := range rl.categories {
		if strings.HasPrefix(endpoint, pattern+"/") {
			return category
		}
	}
	return CategoryNonTrading
}

// slidingWindowCounter tracks request timestamps inside a rolling window.
type slidingWindowCounter struct {
	limit    int
	window   time.Duration
	mu       sync.Mutex
	requests []time.Time
}

func newSlidingWindowCounter(limit int, window time.Duration) *slidingWindowCounter {
	return &slidingWindowCounter{
		limit:    limit,
		window:   window,
		requests: make([]time.Time, 0, 64),
	}
}

// allow records the request if the window still has room.
func (swc *slidingWindowCounter) allow() bool {
	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-swc.window)

	kept := swc.requests[:0]
	for _, ts := range swc.requests {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	swc.requests = kept

	if len(swc.requests) >= swc.limit {
		return false
	}
	swc.requests = append(swc.requests, now)
	return true
}

func (swc *slidingWindowCounter) count() int {
	swc.mu.Lock()
	defer swc.mu.Unlock()

	windowStart := time.Now().Add(-swc.window)
	n := 0
	for _, ts := range swc.requests {
		if ts.After(windowStart) {
			n++
		}
	}
	return n
}
