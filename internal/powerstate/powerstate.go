// Package powerstate implements C7: the per-node DOWN/WAKING/UP/ASLEEP
// transition table (spec.md §4.6), including the Wake-on-LAN side effect.
package powerstate

import (
	"time"

	"github.com/oriys/cc/internal/domain"
)

// WakeFunc emits a Wake-on-LAN packet for the given MAC. Named capability
// only — the actual WoL framing is a host utility, out of scope (spec.md
// §1); callers inject a real sender or a no-op in tests.
type WakeFunc func(mac string) error

// ProbeOutcome summarizes one monitor pass against a node.
type ProbeOutcome int

const (
	// ProbeSkipped means the node was ASLEEP and the monitor issued no
	// probe at all (spec.md §4.6: "(skipped by monitor — no probe)").
	ProbeSkipped ProbeOutcome = iota
	ProbeSucceeded
	ProbeFailed
	// ProbeEmptyTwice means describe-instances returned empty on this
	// tick and the previous tick, within idleThresh (UP→ASLEEP trigger).
	ProbeEmptyTwice
)

// Pick transitions n to WAKING when the scheduler selects a DOWN/ASLEEP
// node under POWERSAVE (or GREEDY's sleep fallback — spec.md §4.5 treats
// both the same way at pick time). Emits Wake-on-LAN if a MAC is known.
func Pick(n *domain.NodeRecord, now time.Time, wake WakeFunc) error {
	if n.State != domain.NodeDown && n.State != domain.NodeAsleep {
		return nil
	}
	n.ChangeState(domain.NodeWaking, now)
	if n.MAC == "" || wake == nil {
		return nil
	}
	return wake(n.MAC)
}

// ApplyProbe advances n's state given one monitor-loop probe outcome
// (spec.md §4.6 transition table). wakeThresh bounds how long a node may
// sit in WAKING before the monitor gives up and marks it DOWN.
func ApplyProbe(n *domain.NodeRecord, outcome ProbeOutcome, now time.Time, wakeThresh time.Duration) {
	switch n.State {
	case domain.NodeWaking:
		switch outcome {
		case ProbeSucceeded:
			n.ChangeState(domain.NodeUp, now)
		case ProbeFailed:
			if now.Sub(n.StateChangeTs) > wakeThresh {
				n.ChangeState(domain.NodeDown, now)
				n.ZeroCapacity()
			}
		}
	case domain.NodeUp:
		switch outcome {
		case ProbeFailed:
			n.ChangeState(domain.NodeDown, now)
			n.ZeroCapacity()
		case ProbeEmptyTwice:
			n.ChangeState(domain.NodeAsleep, now)
		}
	case domain.NodeAsleep:
		// ProbeSkipped is the only legitimate outcome here; the monitor
		// never probes a sleeping node (spec.md §4.6).
	}
}

// PowerDownFunc sends the NC power-down verb for a node entering ASLEEP.
// Named capability; the monitor wires this to ncclient.Client.PowerDown.
type PowerDownFunc func(hostname string) error

// EnterIdle is the UP→ASLEEP transition: the state change happens first
// (ChangeState zeroes IdleStartTs on any edge), then power-down is sent; a
// power-down error is returned but the node stays ASLEEP (this
// is a no-op outside POWERSAVE as in the original, callers only invoke
// EnterIdle when the active policy is POWERSAVE).
func EnterIdle(n *domain.NodeRecord, now time.Time, powerDown PowerDownFunc) error {
	n.ChangeState(domain.NodeAsleep, now)
	if powerDown == nil {
		return nil
	}
	return powerDown(n.Hostname)
}
