package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesAndRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("PEPE") || !l.Allow("PEPE") {
		t.Fatal("expected the first two calls to pass")
	}
	if l.Allow("PEPE") {
		t.Fatal("expected bucket to be empty")
	}
	if !l.Allow("WIF") {
		t.Fatal("keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("PEPE") {
		t.Fatal("expected one token after a second")
	}
	if l.Allow("PEPE") {
		t.Fatal("refill must not exceed elapsed time")
	}
}

func TestZeroRefillDisablesLimit(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 10; i++ {
		if !l.Allow("PEPE") {
			t.Fatalf("call %d limited", i)
		}
	}
}
