package middleware

import "testing"

func TestRateLimiterInMemoryWindow(t *testing.T) {
	rl := NewRateLimiter(3, nil)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request over the limit allowed")
	}
	// Other clients keep their own counters.
	if !rl.Allow("10.0.0.2") {
		t.Fatal("unrelated client denied")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}
