package scheduler

import (
	"testing"
	"time"

	"github.com/oriys/cc/internal/domain"
)

func node(hostname string, state domain.NodeState, avail domain.VMShape) *domain.NodeRecord {
	return &domain.NodeRecord{
		Hostname:      hostname,
		State:         state,
		MaxMemoryMB:   avail.MemMB,
		MaxDiskGB:     avail.DiskGB,
		MaxCores:      avail.Cores,
		AvailMemoryMB: avail.MemMB,
		AvailDiskGB:   avail.DiskGB,
		AvailCores:    avail.Cores,
		StateChangeTs: time.Now(),
	}
}

func TestScheduleGreedyFirstFit(t *testing.T) {
	small := domain.VMShape{MemMB: 512, DiskGB: 5, Cores: 1}
	snapshot := []*domain.NodeRecord{
		node("n0", domain.NodeDown, domain.VMShape{}),
		node("n1", domain.NodeUp, domain.VMShape{MemMB: 256, DiskGB: 5, Cores: 1}),
		node("n2", domain.NodeUp, domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}),
	}

	d, _, err := Schedule(snapshot, small, Greedy, 0, "")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if d.Index != 2 {
		t.Fatalf("expected index 2 (first node with capacity), got %d", d.Index)
	}
	if d.NeedsWake {
		t.Fatal("UP node should not need wake")
	}
}

func TestScheduleGreedyFallsBackToAsleep(t *testing.T) {
	vm := domain.VMShape{MemMB: 512, DiskGB: 5, Cores: 1}
	snapshot := []*domain.NodeRecord{
		node("n0", domain.NodeUp, domain.VMShape{MemMB: 0, DiskGB: 0, Cores: 0}),
		node("n1", domain.NodeAsleep, domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}),
	}

	d, _, err := Schedule(snapshot, vm, Greedy, 0, "")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if d.Index != 1 || !d.NeedsWake {
		t.Fatalf("expected asleep fallback at index 1 with wake, got %+v", d)
	}
}

func TestScheduleGreedyNoFit(t *testing.T) {
	vm := domain.VMShape{MemMB: 4096, DiskGB: 40, Cores: 8}
	snapshot := []*domain.NodeRecord{
		node("n0", domain.NodeUp, domain.VMShape{MemMB: 512, DiskGB: 5, Cores: 1}),
		node("n1", domain.NodeDown, domain.VMShape{}),
	}

	if _, _, err := Schedule(snapshot, vm, Greedy, 0, ""); err != ErrNoFit {
		t.Fatalf("expected ErrNoFit, got %v", err)
	}
}

func TestScheduleRoundRobinWrapsAndAdvancesCursor(t *testing.T) {
	vm := domain.VMShape{MemMB: 256, DiskGB: 2, Cores: 1}
	fits := domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}
	snapshot := []*domain.NodeRecord{
		node("n0", domain.NodeUp, fits),
		node("n1", domain.NodeUp, fits),
		node("n2", domain.NodeUp, fits),
	}

	// cursor starts at 2: scan order is n2, n0, n1 — n2 fits immediately.
	d, next, err := Schedule(snapshot, vm, RoundRobin, 2, "")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if d.Index != 2 {
		t.Fatalf("expected winner at cursor itself (index 2), got %d", d.Index)
	}
	if next != 0 {
		t.Fatalf("expected next cursor 0 (winner+1 mod 3), got %d", next)
	}
}

func TestScheduleRoundRobinSkipsDownWrapsToStart(t *testing.T) {
	vm := domain.VMShape{MemMB: 256, DiskGB: 2, Cores: 1}
	fits := domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}
	snapshot := []*domain.NodeRecord{
		node("n0", domain.NodeUp, fits),
		node("n1", domain.NodeDown, domain.VMShape{}),
		node("n2", domain.NodeDown, domain.VMShape{}),
	}

	// cursor=1: scan order n1(down), n2(down), n0(fits) — wraps back to n0.
	d, next, err := Schedule(snapshot, vm, RoundRobin, 1, "")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if d.Index != 0 {
		t.Fatalf("expected wrap-around winner at index 0, got %d", d.Index)
	}
	if next != 1 {
		t.Fatalf("expected next cursor 1, got %d", next)
	}
}

func TestScheduleExplicitPrefersUpOverAsleep(t *testing.T) {
	vm := domain.VMShape{MemMB: 256, DiskGB: 2, Cores: 1}
	snapshot := []*domain.NodeRecord{
		node("target", domain.NodeUp, domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}),
	}

	d, _, err := Schedule(snapshot, vm, Explicit, 0, "target")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if d.NeedsWake {
		t.Fatal("UP target should not need wake")
	}
}

func TestScheduleExplicitWakesAsleepWhenFits(t *testing.T) {
	vm := domain.VMShape{MemMB: 256, DiskGB: 2, Cores: 1}
	snapshot := []*domain.NodeRecord{
		node("target", domain.NodeAsleep, domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2}),
	}

	d, _, err := Schedule(snapshot, vm, Explicit, 0, "target")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !d.NeedsWake {
		t.Fatal("asleep target should need wake")
	}
}

func TestScheduleExplicitMissingHost(t *testing.T) {
	vm := domain.VMShape{MemMB: 256, DiskGB: 2, Cores: 1}
	snapshot := []*domain.NodeRecord{node("other", domain.NodeUp, domain.VMShape{MemMB: 1024, DiskGB: 10, Cores: 2})}

	if _, _, err := Schedule(snapshot, vm, Explicit, 0, "target"); err != ErrNoFit {
		t.Fatalf("expected ErrNoFit for missing host, got %v", err)
	}
}

func TestScheduleUnknownPolicy(t *testing.T) {
	if _, _, err := Schedule(nil, domain.VMShape{}, Policy("BOGUS"), 0, ""); err == nil {
		t.Fatal("expected an error for an unknown policy")
	}
}
