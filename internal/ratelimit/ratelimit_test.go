package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})

	for i := 0; i < 100; i++ {
		if err := l.Allow("run_workflow_cli"); err != nil {
			t.Fatalf("unlimited limiter denied request %d: %v", i, err)
		}
	}
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("run_workflow_cli"); err != nil {
			t.Fatalf("request %d denied within burst: %v", i, err)
		}
	}

	err := l.Allow("run_workflow_cli")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("run_workflow_cli"); err != nil {
		t.Fatalf("first key denied: %v", err)
	}
	if err := l.Allow("run_workflow_cli"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected first key exhausted, got %v", err)
	}

	// A different key still has a full bucket.
	if err := l.Allow("search_capabilities"); err != nil {
		t.Fatalf("second key denied: %v", err)
	}
}

func TestAllow_Refills(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 6000, BurstSize: 1})

	if err := l.Allow("k"); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	if err := l.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected exhausted bucket, got %v", err)
	}

	// 6000/min = 100 tokens per second; force a refill by backdating the bucket.
	l.mu.Lock()
	l.buckets["k"].lastFill = l.buckets["k"].lastFill.Add(-time.Second)
	l.mu.Unlock()

	if err := l.Allow("k"); err != nil {
		t.Fatalf("expected refilled bucket to allow, got %v", err)
	}
}
