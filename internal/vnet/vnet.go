// Package vnet names the network-parameter subsystem the launch pipeline
// and the ConfigureNetwork/FlushNetwork/StartNetwork/StopNetwork verbs
// consume (spec.md §1, §6). MAC/IP allocation, DHCP lease management, and
// VLAN wiring are host/network-stack concerns explicitly out of scope —
// this package only defines the capability surface and a deterministic
// in-memory allocator good enough to drive the pipeline end to end.
package vnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/cc/internal/domain"
)

// Network describes one named virtual network (ConfigureNetwork/
// DescribeNetworks' vnetConfig, reduced to what this core tracks).
type Network struct {
	Name      string
	VLAN      int
	Started   bool
	PeerCCs   []string
}

// Allocator is a deterministic, in-memory stand-in for the real vnet
// subsystem: it hands out sequential private IPs/MACs per VLAN, tracks
// named networks and the elastic-IP pool. Release does nothing: allocated
// slots are never reused. Safe for concurrent use, but callers still acquire
// VNET themselves (spec.md §4.1) since real allocators would need that
// exclusion for host-level state.
type Allocator struct {
	mu       sync.Mutex
	cidr     string         // e.g. "172.19.0.0/16", informational only here
	counter  map[int]int    // per-VLAN next host offset
	networks map[string]*Network
	pubPool  map[string]bool // publicIP -> allocated
}

// NewAllocator creates an in-memory allocator. cidr is stored but neither
// parsed nor reported; private IPs are always drawn from 172.19.0.0/16.
func NewAllocator(cidr string) *Allocator {
	return &Allocator{
		cidr:     cidr,
		counter:  make(map[int]int),
		networks: make(map[string]*Network),
		pubPool:  make(map[string]bool),
	}
}

// Allocate synthesizes a NetConfig for one instance slot. networkIndex, if
// non-nil, is honored verbatim as NetConfig.NetworkIndex instead of being
// derived from the per-VLAN counter.
func (a *Allocator) Allocate(ctx context.Context, instanceID string, vlan int, networkIndex *int) (domain.NetConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.counter[vlan]
	if networkIndex != nil {
		idx = *networkIndex
	} else {
		a.counter[vlan]++
	}
	if idx < 0 || idx > 253 {
		return domain.NetConfig{}, fmt.Errorf("vnet: network index %d out of range for vlan %d", idx, vlan)
	}

	return domain.NetConfig{
		PrivateMAC:   macFor(vlan, idx),
		PrivateIP:    fmt.Sprintf("172.19.%d.%d", vlan%256, idx+2),
		PublicIP:     "0.0.0.0",
		VLAN:         vlan,
		NetworkIndex: idx,
	}, nil
}

// Release is a no-op: the slot is not returned to a pool, and the in-memory
// allocator only ever grows its counter forward, matching handlers.c's
// disable_host/del_host path being best-effort cleanup rather than a hard
// requirement for correctness.
func (a *Allocator) Release(ctx context.Context, cfg domain.NetConfig) error {
	return nil
}

func macFor(vlan, idx int) string {
	return fmt.Sprintf("d0:0d:%02x:%02x:%02x:%02x", vlan>>8&0xff, vlan&0xff, idx>>8&0xff, idx&0xff)
}

// ConfigureNetwork upserts a named network's ingress rule set. This
// allocator only tracks network existence, not the rule list itself — the
// packet-filter wiring (iptables/ebtables equivalents) is a host utility
// capability out of scope (spec.md §1).
func (a *Allocator) ConfigureNetwork(ctx context.Context, destName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.networks[destName]; !ok {
		a.networks[destName] = &Network{Name: destName}
	}
	return nil
}

// FlushNetwork is a no-op: this allocator tracks no rules to remove (see
// ConfigureNetwork), and the network itself stays registered.
func (a *Allocator) FlushNetwork(ctx context.Context, destName string) error {
	return nil
}

// StartNetwork marks netName started on vlan with the given peer CCs.
func (a *Allocator) StartNetwork(ctx context.Context, netName string, vlan int, peerCCs []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.networks[netName]
	if !ok {
		n = &Network{Name: netName}
		a.networks[netName] = n
	}
	n.VLAN = vlan
	n.PeerCCs = peerCCs
	n.Started = true
	return nil
}

// StopNetwork marks netName stopped.
func (a *Allocator) StopNetwork(ctx context.Context, netName string, vlan int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.networks[netName]; ok {
		n.Started = false
	}
	return nil
}

// DescribeNetworks returns every tracked network, for the DescribeNetworks
// verb's vnetConfig payload.
func (a *Allocator) DescribeNetworks(ctx context.Context) []Network {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Network, 0, len(a.networks))
	for _, n := range a.networks {
		out = append(out, *n)
	}
	return out
}

// AllocatePublicIP reserves srcPublicIP in the elastic-IP pool. Returns an
// error if already allocated (AssignAddress is expected to be a fresh
// assignment per call; re-assignment of a held IP goes through
// UnassignAddress first, matching vnetAllocatePublicIP's contract).
func (a *Allocator) AllocatePublicIP(ctx context.Context, srcPublicIP string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pubPool[srcPublicIP] {
		return fmt.Errorf("vnet: public ip %s already allocated", srcPublicIP)
	}
	a.pubPool[srcPublicIP] = true
	return nil
}

// DeallocatePublicIP releases srcPublicIP back to the pool.
func (a *Allocator) DeallocatePublicIP(ctx context.Context, srcPublicIP string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pubPool, srcPublicIP)
	return nil
}

// PublicIPs returns every currently allocated elastic IP, for
// DescribePublicAddresses. The allocator has no network-mode setting, so
// the result is the same in every mode.
func (a *Allocator) PublicIPs(ctx context.Context) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.pubPool))
	for ip := range a.pubPool {
		out = append(out, ip)
	}
	return out
}
