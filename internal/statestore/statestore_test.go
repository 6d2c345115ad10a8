package statestore

import (
	"context"
	"testing"
	"time"
)

func TestInMemorySetFreshGetFreshRoundTrip(t *testing.T) {
	s := NewInMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetFresh(ctx, "k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("SetFresh: %v", err)
	}
	val, ts, err := s.GetFresh(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("GetFresh: %v", err)
	}
	if string(val) != "payload" {
		t.Fatalf("got %q, want %q", val, "payload")
	}
	if ts.IsZero() {
		t.Fatal("expected non-zero publish time")
	}
}

func TestInMemoryGetFreshStaleAfterMaxAge(t *testing.T) {
	s := NewInMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetFresh(ctx, "k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("SetFresh: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	val, _, err := s.GetFresh(ctx, "k", time.Millisecond)
	if err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if string(val) != "payload" {
		t.Fatalf("stale read should still return the payload, got %q", val)
	}
}

func TestInMemoryGetFreshZeroMaxAgeNeverStale(t *testing.T) {
	s := NewInMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetFresh(ctx, "k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("SetFresh: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, _, err := s.GetFresh(ctx, "k", 0); err != nil {
		t.Fatalf("zero maxAge should disable staleness check, got %v", err)
	}
}

func TestGetFreshOnPlainSetReturnsNotFound(t *testing.T) {
	s := NewInMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("not an envelope"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := s.GetFresh(ctx, "k", time.Minute); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for a non-envelope value, got %v", err)
	}
}

func TestGetFreshOnMissingKeyReturnsNotFound(t *testing.T) {
	s := NewInMemory()
	defer s.Close()
	ctx := context.Background()

	if _, _, err := s.GetFresh(ctx, "missing", time.Minute); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTieredFallsThroughToL2WhenL1Stale(t *testing.T) {
	l1 := NewInMemory()
	l2 := NewInMemory()
	defer l1.Close()
	defer l2.Close()
	tiered := NewTiered(l1, l2, time.Hour)
	ctx := context.Background()

	if err := tiered.SetFresh(ctx, "k", []byte("fresh-from-l2"), time.Hour); err != nil {
		t.Fatalf("SetFresh: %v", err)
	}

	// Directly stomp L1 with a stale envelope pretending to be old, leaving
	// L2 with the fresh copy SetFresh just wrote.
	staleEnv, err := encodeEnvelope([]byte("stale-in-l1"), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	if err := l1.Set(ctx, "k", staleEnv, time.Hour); err != nil {
		t.Fatalf("l1.Set: %v", err)
	}

	val, _, err := tiered.GetFresh(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("GetFresh: %v", err)
	}
	if string(val) != "fresh-from-l2" {
		t.Fatalf("expected fallthrough to L2's fresh copy, got %q", val)
	}
}

func TestTieredRepopulatesL1OnL2Hit(t *testing.T) {
	l1 := NewInMemory()
	l2 := NewInMemory()
	defer l1.Close()
	defer l2.Close()
	tiered := NewTiered(l1, l2, time.Hour)
	ctx := context.Background()

	if err := tiered.SetFresh(ctx, "k", []byte("payload"), time.Hour); err != nil {
		t.Fatalf("SetFresh: %v", err)
	}
	if err := l1.Delete(ctx, "k"); err != nil {
		t.Fatalf("l1.Delete: %v", err)
	}

	if _, _, err := tiered.GetFresh(ctx, "k", time.Hour); err != nil {
		t.Fatalf("GetFresh: %v", err)
	}
	if _, err := l1.Get(ctx, "k"); err != nil {
		t.Fatalf("expected L2 hit to repopulate L1, got %v", err)
	}
}

func TestTieredGetFreshMissingKey(t *testing.T) {
	l1 := NewInMemory()
	l2 := NewInMemory()
	defer l1.Close()
	defer l2.Close()
	tiered := NewTiered(l1, l2, time.Hour)
	ctx := context.Background()

	if _, _, err := tiered.GetFresh(ctx, "missing", time.Hour); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
