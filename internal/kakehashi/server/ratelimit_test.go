package server

import (
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third request inside the window should be refused")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("another client has its own window")
	}

	now = now.Add(time.Minute + time.Second)
	if !l.Allow("10.0.0.1") {
		t.Error("window should reset after a minute")
	}
}

func TestRateLimiter_ZeroDisables(t *testing.T) {
	l := newRateLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		if !l.Allow("c") {
			t.Fatalf("request %d refused with limiting disabled", i)
		}
	}
	var nilLimiter *rateLimiter
	if !nilLimiter.Allow("c") {
		t.Error("nil limiter should allow")
	}
}

func TestRateLimiter_SweepsExpiredBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	for i := 0; i <= sweepThreshold; i++ {
		l.Allow(time.Duration(i).String())
	}
	now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	if got := len(l.buckets); got != 1 {
		t.Errorf("expected expired buckets swept, %d remain", got)
	}
}

func TestHub_CapAndClose(t *testing.T) {
	h := newHub(1)
	if !h.acquire() {
		t.Fatal("first stream should be accepted")
	}
	if h.acquire() {
		t.Error("second stream exceeds the cap")
	}
	h.release()
	if h.Len() != 0 {
		t.Errorf("Len = %d after release", h.Len())
	}
	h.close()
	h.close()
	select {
	case <-h.done:
	default:
		t.Error("done should be closed")
	}
	if h.acquire() {
		t.Error("closed hub must refuse streams")
	}
}
