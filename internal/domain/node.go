// Package domain holds the wire-level shapes shared by every component of
// the cluster controller: node records, instance records, and the verb
// parameter/result pairs the control layer passes around.
package domain

import "time"

// NodeState is the power-state machine state of a resource cache entry (C7).
type NodeState string

const (
	NodeDown   NodeState = "DOWN"
	NodeWaking NodeState = "WAKING"
	NodeUp     NodeState = "UP"
	NodeAsleep NodeState = "ASLEEP"
)

// NodeRecord is a C2 resource cache entry: one Node Controller.
type NodeRecord struct {
	Hostname   string
	IP         string
	MAC        string // discovered lazily via ARP; write-once once non-empty
	NCURL      string
	NCPort     int
	NCService  string

	MaxMemoryMB int
	MaxDiskGB   int
	MaxCores    int

	AvailMemoryMB int
	AvailDiskGB   int
	AvailCores    int

	State         NodeState
	LastState     NodeState
	StateChangeTs time.Time
	IdleStartTs   time.Time // zero value means "not idle"
}

// HasCapacityFor reports whether the node's available resources can satisfy
// the given VM shape. Does not mutate the record.
func (n *NodeRecord) HasCapacityFor(vm VMShape) bool {
	return n.AvailMemoryMB-vm.MemMB >= 0 &&
		n.AvailDiskGB-vm.DiskGB >= 0 &&
		n.AvailCores-vm.Cores >= 0
}

// Reserve subtracts a VM shape from available capacity. Caller must hold
// RESCACHE. Invariant: avail >= 0 after decrement (checked by the caller
// via HasCapacityFor before calling Reserve).
func (n *NodeRecord) Reserve(vm VMShape) {
	n.AvailMemoryMB -= vm.MemMB
	n.AvailDiskGB -= vm.DiskGB
	n.AvailCores -= vm.Cores
}

// ZeroCapacity clears max/avail figures, used when a node is marked DOWN.
func (n *NodeRecord) ZeroCapacity() {
	n.MaxMemoryMB, n.AvailMemoryMB = 0, 0
	n.MaxDiskGB, n.AvailDiskGB = 0, 0
	n.MaxCores, n.AvailCores = 0, 0
}

// ChangeState transitions the node, recording LastState and the transition
// timestamp, and clears IdleStartTs — mirrors changeState() in the original
// C core, which performs this bookkeeping unconditionally on every edge.
func (n *NodeRecord) ChangeState(newState NodeState, now time.Time) {
	if n.State == newState {
		return
	}
	n.LastState = n.State
	n.State = newState
	n.StateChangeTs = now
	n.IdleStartTs = time.Time{}
}
