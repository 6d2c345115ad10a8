// Package scheduler implements C6: pick a resource-cache slot for a VM
// shape under one of four policies (spec.md §4.5). The scheduler only
// reads/reserves against a Snapshot the caller took under RESCACHE+CONFIG;
// it never calls resourcecache.Cache directly so callers stay in control
// of the lock window.
package scheduler

import (
	"errors"

	"github.com/oriys/cc/internal/domain"
)

// ErrNoFit is returned when no node can satisfy the request under the
// active policy.
var ErrNoFit = errors.New("scheduler: no resource fits request")

// Policy selects the placement algorithm.
type Policy string

const (
	Greedy     Policy = "GREEDY"
	RoundRobin Policy = "ROUNDROBIN"
	PowerSave  Policy = "POWERSAVE"
	Explicit   Policy = "EXPLICIT"
)

// Decision is the scheduler's answer: the winning slot index, and whether
// that node needs to be woken (it was ASLEEP and is now the wake target).
type Decision struct {
	Index     int
	NeedsWake bool
}

// Schedule picks a slot in snapshot for vm under policy. cursor is the
// round-robin cursor (read-only in, the caller commits NextCursor back to
// config after a successful ROUNDROBIN pick — spec.md §4.5 "cursor is
// updated to winner+1 mod N"). targetHost is only consulted for EXPLICIT.
//
// Tie-break is always first-fit by ascending slot order, matching the
// original's single left-to-right scan — deterministic, so the same
// snapshot and request always produce the same decision (spec.md §4.5,
// §8 property 4).
func Schedule(snapshot []*domain.NodeRecord, vm domain.VMShape, policy Policy, cursor int, targetHost string) (Decision, int, error) {
	switch policy {
	case Greedy:
		return scheduleGreedy(snapshot, vm)
	case PowerSave:
		return scheduleGreedy(snapshot, vm) // identical placement rule; sleep-on-idle is a separate C7 side effect (§4.6)
	case RoundRobin:
		return scheduleRoundRobin(snapshot, vm, cursor)
	case Explicit:
		d, err := scheduleExplicit(snapshot, vm, targetHost)
		return d, cursor, err
	default:
		return Decision{}, cursor, errors.New("scheduler: unknown policy " + string(policy))
	}
}

// scheduleGreedy performs one left-to-right scan, recording the first
// UP/WAKING fit and, in the same pass, the first ASLEEP fit as a fallback —
// mirroring handlers.c's single-pass scan rather than two separate loops,
// so only one lock-held traversal of the resource cache is ever needed.
func scheduleGreedy(snapshot []*domain.NodeRecord, vm domain.VMShape) (Decision, int, error) {
	asleep := -1
	for i, n := range snapshot {
		switch n.State {
		case domain.NodeUp, domain.NodeWaking:
			if n.HasCapacityFor(vm) {
				return Decision{Index: i}, 0, nil
			}
		case domain.NodeAsleep:
			if asleep < 0 && fitsMaxCapacity(n, vm) {
				asleep = i
			}
		}
	}
	if asleep >= 0 {
		return Decision{Index: asleep, NeedsWake: true}, 0, nil
	}
	return Decision{}, 0, ErrNoFit
}

// scheduleRoundRobin starts the scan at cursor and wraps circularly through
// every slot exactly once; the first UP/WAKING fit wins and the cursor
// advances to winner+1 mod N. Sleeping nodes are never woken under this
// policy (spec.md §4.5).
func scheduleRoundRobin(snapshot []*domain.NodeRecord, vm domain.VMShape, cursor int) (Decision, int, error) {
	n := len(snapshot)
	if n == 0 {
		return Decision{}, cursor, ErrNoFit
	}
	start := ((cursor % n) + n) % n
	for k := 0; k < n; k++ {
		i := (start + k) % n
		rec := snapshot[i]
		if (rec.State == domain.NodeUp || rec.State == domain.NodeWaking) && rec.HasCapacityFor(vm) {
			return Decision{Index: i}, (i + 1) % n, nil
		}
	}
	return Decision{}, cursor, ErrNoFit
}

// scheduleExplicit finds targetHost only: prefers it UP, falls back to
// waking it if ASLEEP, fails if absent, DOWN, or over-capacity.
func scheduleExplicit(snapshot []*domain.NodeRecord, vm domain.VMShape, targetHost string) (Decision, error) {
	for i, n := range snapshot {
		if n.Hostname != targetHost {
			continue
		}
		switch n.State {
		case domain.NodeUp, domain.NodeWaking:
			if !n.HasCapacityFor(vm) {
				return Decision{}, ErrNoFit
			}
			return Decision{Index: i}, nil
		case domain.NodeAsleep:
			if !fitsMaxCapacity(n, vm) {
				return Decision{}, ErrNoFit
			}
			return Decision{Index: i, NeedsWake: true}, nil
		default:
			return Decision{}, ErrNoFit
		}
	}
	return Decision{}, ErrNoFit
}

func fitsMaxCapacity(n *domain.NodeRecord, vm domain.VMShape) bool {
	return n.MaxMemoryMB >= vm.MemMB && n.MaxDiskGB >= vm.DiskGB && n.MaxCores >= vm.Cores
}
