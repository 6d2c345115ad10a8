package instancecache

import (
	"testing"
	"time"

	"github.com/oriys/cc/internal/domain"
)

func rec(id, privateIP string) *domain.InstanceRecord {
	return &domain.InstanceRecord{InstanceID: id, Net: domain.NetConfig{PrivateIP: privateIP}}
}

func TestAddIsIdempotentAndFindByIDReturnsACopy(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.5"))
	c.Add(rec("i-1", "10.0.0.5"))
	if c.Len() != 1 {
		t.Fatalf("expected len 1 after idempotent re-add, got %d", c.Len())
	}

	got := c.FindByID("i-1")
	got.Net.PrivateIP = "mutated"
	if c.FindByID("i-1").Net.PrivateIP != "10.0.0.5" {
		t.Fatal("FindByID must return an independent copy, not an alias")
	}
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	c := New()
	if c.FindByID("ghost") != nil {
		t.Fatal("expected nil for an absent instance")
	}
}

func TestFindByIPMatchesPrivateIP(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.5"))
	c.Add(rec("i-2", "10.0.0.6"))

	got := c.FindByIP("10.0.0.6")
	if got == nil || got.InstanceID != "i-2" {
		t.Fatalf("expected i-2, got %+v", got)
	}
	if c.FindByIP("10.0.0.99") != nil {
		t.Fatal("expected nil for unmatched IP")
	}
}

func TestRefreshOverwritesInPlace(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.5"))
	c.Refresh(rec("i-1", "10.0.0.9"))
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
	if c.FindByID("i-1").Net.PrivateIP != "10.0.0.9" {
		t.Fatal("expected Refresh to overwrite the private IP")
	}
}

func TestDelRemovesSlot(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.5"))
	c.Del("i-1")
	if c.Len() != 0 {
		t.Fatal("expected len 0 after Del")
	}
	if c.FindByID("i-1") != nil {
		t.Fatal("expected nil after Del")
	}
}

func TestInvalidateStaleDropsOldEntriesOnly(t *testing.T) {
	c := New()
	c.Add(rec("fresh", "10.0.0.1"))
	c.byID["stale"] = &slot{rec: rec("stale", "10.0.0.2"), lastSeen: time.Now().Add(-time.Hour)}

	dropped := c.InvalidateStale(time.Minute)
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if c.FindByID("stale") != nil {
		t.Fatal("expected stale entry to be gone")
	}
	if c.FindByID("fresh") == nil {
		t.Fatal("expected fresh entry to survive")
	}
}

func TestMapAppliesOpOnlyToMatches(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.1"))
	c.Add(rec("i-2", "10.0.0.2"))

	n := c.Map(
		func(r *domain.InstanceRecord) bool { return r.Net.PrivateIP == "10.0.0.2" },
		func(r *domain.InstanceRecord) { r.Net.PublicIP = "203.0.113.9" },
	)
	if n != 1 {
		t.Fatalf("expected 1 match, got %d", n)
	}
	if c.FindByID("i-2").Net.PublicIP != "203.0.113.9" {
		t.Fatal("expected the matched record to be mutated")
	}
	if c.FindByID("i-1").Net.PublicIP != "" {
		t.Fatal("expected the non-matching record to be untouched")
	}
}

func TestSnapshotReturnsIndependentCopies(t *testing.T) {
	c := New()
	c.Add(rec("i-1", "10.0.0.1"))

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	snap[0].Net.PrivateIP = "mutated"
	if c.FindByID("i-1").Net.PrivateIP != "10.0.0.1" {
		t.Fatal("mutating a snapshot entry must not affect the live cache")
	}
}
