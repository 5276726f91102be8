package limiter

import (
	"testing"
	"time"
)

func TestCategorize(t *testing.T) {
	rl := NewHTTPRateLimiter()

	cases := []struct {
		endpoint string
		want     EndpointCategory
	}{
		{"/optionchain", CategoryOptionChain},
		{"/optionchain/expirylist", CategoryOptionChain},
		{"/marketfeed/ltp", CategoryData},
		{"/marketfeed/ltp/extra", CategoryData},
		{"/something/else", CategoryNonTrading},
	}
	for _, tc := range cases {
		if got := rl.categorize(tc.endpoint); got != tc.want {
			t.Errorf("categorize(%q) = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
}

func TestOptionChainAllowThrottles(t *testing.T) {
	rl := NewHTTPRateLimiter()

	if err := rl.Allow("/optionchain"); err != nil {
		t.Fatalf("first option-chain request should pass: %v", err)
	}
	if err := rl.Allow("/optionchain"); err == nil {
		t.Fatal("second immediate option-chain request should be throttled")
	}
}

func TestSlidingWindowCounter(t *testing.T) {
	swc := newSlidingWindowCounter(2, 50*time.Millisecond)

	if !swc.allow() || !swc.allow() {
		t.Fatal("first two requests should be allowed")
	}
	if swc.allow() {
		t.Fatal("third request inside window should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !swc.allow() {
		t.Fatal("request after window expiry should be allowed")
	}
	if got := swc.count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}
