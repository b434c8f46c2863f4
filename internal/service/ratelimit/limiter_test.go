package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowWithinCapacity(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		if !l.Allow("k", 5, 1) {
			t.Fatalf("request %d should pass within capacity", i)
		}
	}
	if l.Allow("k", 5, 1) {
		t.Fatalf("expected denial once the bucket is drained")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 1) {
		t.Fatalf("first request for a should pass")
	}
	if l.Allow("a", 1, 1) {
		t.Fatalf("a is drained")
	}
	if !l.Allow("b", 1, 1) {
		t.Fatalf("b has its own bucket")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 0.001) {
		t.Fatalf("first request should pass")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatalf("expected context deadline error")
	}
}
