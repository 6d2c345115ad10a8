// Package control implements the CLC-facing verb handlers (spec.md §6):
// the glue between the wire layer and C1-C10. Each handler acquires locks
// in the fixed order (spec.md §4.1), does its cache/NC work, and releases
// them before returning; the wire/transport dispatch itself is out of
// scope (spec.md §1).
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/oriys/cc/internal/checkpoint"
	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/fanout"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/launch"
	"github.com/oriys/cc/internal/locks"
	"github.com/oriys/cc/internal/logging"
	"github.com/oriys/cc/internal/ncclient"
	"github.com/oriys/cc/internal/resourcecache"
	"github.com/oriys/cc/internal/tracing"
	"github.com/oriys/cc/internal/vnet"
)

// Controller holds every handle a verb handler needs. One Controller
// serves the whole daemon; handlers are safe for concurrent invocation —
// each call takes its own Holder.
type Controller struct {
	Instances *instancecache.Cache
	Resources *resourcecache.Cache
	Locks     *locks.Registry
	NC        ncclient.Client
	Net       *vnet.Allocator
	Launch    *launch.Pipeline
	Checkpoint *checkpoint.Store
	OpTimeout time.Duration
}

// ensureCorrelationID fills in a fresh one when the caller didn't supply
// any (spec.md §10 verb-call log line requires a non-empty correlationId).
func ensureCorrelationID(meta *domain.Metadata) {
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}
}

// checkpointAll fires the asynchronous msync of the instance and resource
// regions (spec.md §4.9). The config and vnet regions are not synced.
// The handlers that change the instance cache call it as their last step;
// the read-only verbs, GetConsoleOutput and the network verbs do not.
func (c *Controller) checkpointAll() {
	if c.Checkpoint == nil {
		return
	}
	_ = c.Checkpoint.Sync(checkpoint.RegionInstances, c.Instances.Snapshot())
	_ = c.Checkpoint.Sync(checkpoint.RegionResources, c.Resources.Snapshot())
}

// RunInstances is C9's entry point (spec.md §6, §4.8).
func (c *Controller) RunInstances(ctx context.Context, meta domain.Metadata, params domain.RunInstancesParams) (domain.RunInstancesResult, error) {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "RunInstances", meta.CorrelationID)
	defer span.End()

	if params.MaxCount <= 0 {
		err := fmt.Errorf("control: BadInput maxCount must be positive")
		tracing.EndWithErr(span, err)
		return domain.RunInstancesResult{}, err
	}
	result := c.Launch.Run(ctx, meta, params)
	c.checkpointAll()
	return result, nil
}

// DescribeInstances is served entirely from C1, no NC traffic (spec.md §6).
func (c *Controller) DescribeInstances(ctx context.Context, instanceIDs []string) []*domain.InstanceRecord {
	all := c.Instances.Snapshot()
	if len(instanceIDs) == 0 {
		return all
	}
	wanted := lo.SliceToMap(instanceIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	return lo.Filter(all, func(rec *domain.InstanceRecord, _ int) bool {
		_, ok := wanted[rec.InstanceID]
		return ok
	})
}

// RebootInstances applies the short-circuit fan-out rule per instance
// (spec.md §4.4).
func (c *Controller) RebootInstances(ctx context.Context, meta domain.Metadata, instanceIDs []string) error {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "RebootInstances", meta.CorrelationID)
	defer span.End()

	holder := c.Locks.NewHolder()
	for _, id := range instanceIDs {
		holder.Acquire(locks.INSTCACHE)
		r := fanout.CandidateRange(c.Instances, c.Resources, id)
		holder.Release(locks.INSTCACHE)

		holder.Acquire(locks.RESCACHE)
		targets := fanout.Targets(c.Resources, r)
		holder.Release(locks.RESCACHE)

		opStart := time.Now()
		outcomes := fanout.Dispatch(ctx, "ncRebootInstance", targets, fanout.ShortCircuit, opStart, c.OpTimeout, ncclient.DefaultOpTimeoutPerNode,
			func(ctx context.Context, t fanout.Target) (struct{}, error) {
				return struct{}{}, c.NC.RebootInstance(ctx, t.NCURL, meta, id)
			})
		if _, ok := fanout.FirstSuccess(outcomes); !ok {
			logging.Op().Warn("reboot: no nc accepted instance", "instance_id", id)
		}
	}
	c.checkpointAll()
	return nil
}

// TerminateInstances never short-circuits: every instance gets its own
// exhaustive fan-out and its own status entry (spec.md §4.4, §7).
func (c *Controller) TerminateInstances(ctx context.Context, meta domain.Metadata, instanceIDs []string) []domain.TerminateStatus {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "TerminateInstances", meta.CorrelationID)
	defer span.End()

	holder := c.Locks.NewHolder()
	statuses := make([]domain.TerminateStatus, 0, len(instanceIDs))

	for _, id := range instanceIDs {
		holder.Acquire(locks.INSTCACHE)
		r := fanout.CandidateRange(c.Instances, c.Resources, id)
		holder.Release(locks.INSTCACHE)

		holder.Acquire(locks.RESCACHE)
		targets := fanout.Targets(c.Resources, r)
		holder.Release(locks.RESCACHE)

		opStart := time.Now()
		outcomes := fanout.Dispatch(ctx, "ncTerminateInstance", targets, fanout.Exhaustive, opStart, c.OpTimeout, ncclient.DefaultOpTimeoutPerNode,
			func(ctx context.Context, t fanout.Target) (struct{}, error) {
				return struct{}{}, c.NC.TerminateInstance(ctx, t.NCURL, meta, id)
			})
		_, ok := fanout.FirstSuccess(outcomes)
		if ok {
			holder.Acquire(locks.INSTCACHE)
			c.Instances.Del(id)
			holder.Release(locks.INSTCACHE)
		}
		statuses = append(statuses, domain.TerminateStatus{InstanceID: id, Success: ok})
	}
	c.checkpointAll()
	return statuses
}

// GetConsoleOutput stops at the first NC that returns a console payload
// (spec.md §4.4).
func (c *Controller) GetConsoleOutput(ctx context.Context, meta domain.Metadata, instanceID string) (string, error) {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "GetConsoleOutput", meta.CorrelationID)
	defer span.End()

	holder := c.Locks.NewHolder()
	holder.Acquire(locks.INSTCACHE)
	r := fanout.CandidateRange(c.Instances, c.Resources, instanceID)
	holder.Release(locks.INSTCACHE)

	holder.Acquire(locks.RESCACHE)
	targets := fanout.Targets(c.Resources, r)
	holder.Release(locks.RESCACHE)

	opStart := time.Now()
	outcomes := fanout.Dispatch(ctx, "ncGetConsoleOutput", targets, fanout.ShortCircuit, opStart, c.OpTimeout, ncclient.DefaultOpTimeoutPerNode,
		func(ctx context.Context, t fanout.Target) (string, error) {
			return c.NC.GetConsoleOutput(ctx, t.NCURL, meta, instanceID)
		})
	out, ok := fanout.FirstSuccess(outcomes)
	if !ok {
		err := fmt.Errorf("control: NcCallFailed get-console-output for %s", instanceID)
		tracing.EndWithErr(span, err)
		return "", err
	}
	return out, nil
}

// AttachVolume/DetachVolume share the short-circuit hit-once rule.
func (c *Controller) AttachVolume(ctx context.Context, meta domain.Metadata, op domain.VolumeOp) error {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "AttachVolume", meta.CorrelationID)
	defer span.End()
	err := c.volumeOp(ctx, "ncAttachVolume", op.InstanceID, func(ctx context.Context, ncURL string) error {
		return c.NC.AttachVolume(ctx, ncURL, meta, op)
	})
	tracing.EndWithErr(span, err)
	return err
}

func (c *Controller) DetachVolume(ctx context.Context, meta domain.Metadata, op domain.VolumeOp) error {
	ensureCorrelationID(&meta)
	ctx, span := tracing.StartVerbSpan(ctx, "DetachVolume", meta.CorrelationID)
	defer span.End()
	err := c.volumeOp(ctx, "ncDetachVolume", op.InstanceID, func(ctx context.Context, ncURL string) error {
		return c.NC.DetachVolume(ctx, ncURL, meta, op)
	})
	tracing.EndWithErr(span, err)
	return err
}

func (c *Controller) volumeOp(ctx context.Context, ncVerb, instanceID string, fn func(ctx context.Context, ncURL string) error) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.INSTCACHE)
	r := fanout.CandidateRange(c.Instances, c.Resources, instanceID)
	holder.Release(locks.INSTCACHE)

	holder.Acquire(locks.RESCACHE)
	targets := fanout.Targets(c.Resources, r)
	holder.Release(locks.RESCACHE)

	opStart := time.Now()
	outcomes := fanout.Dispatch(ctx, ncVerb, targets, fanout.ShortCircuit, opStart, c.OpTimeout, ncclient.DefaultOpTimeoutPerNode,
		func(ctx context.Context, t fanout.Target) (struct{}, error) {
			return struct{}{}, fn(ctx, t.NCURL)
		})
	if _, ok := fanout.FirstSuccess(outcomes); !ok {
		c.checkpointAll()
		return fmt.Errorf("control: NcCallFailed volume op for %s", instanceID)
	}
	c.checkpointAll()
	return nil
}

// AssignAddress maps an elastic IP onto a private-IP-addressed instance
// (S5): reserve the public IP in vnet, then map C1 over a private-IP match
// and set the public IP on every hit (spec.md §6, S5).
func (c *Controller) AssignAddress(ctx context.Context, op domain.AddressOp) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	err := c.Net.AllocatePublicIP(ctx, op.SrcPublicIP)
	holder.Release(locks.VNET)
	if err != nil {
		return fmt.Errorf("control: assign address: %w", err)
	}

	holder.Acquire(locks.INSTCACHE)
	n := c.Instances.Map(
		func(rec *domain.InstanceRecord) bool { return rec.Net.PrivateIP == op.DstPrivateIP },
		func(rec *domain.InstanceRecord) { rec.Net.PublicIP = op.SrcPublicIP },
	)
	holder.Release(locks.INSTCACHE)
	if n == 0 {
		logging.Op().Warn("assign-address: no instance matched private ip", "private_ip", op.DstPrivateIP)
	}
	c.checkpointAll()
	return nil
}

// UnassignAddress reverses AssignAddress.
func (c *Controller) UnassignAddress(ctx context.Context, op domain.AddressOp) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	err := c.Net.DeallocatePublicIP(ctx, op.SrcPublicIP)
	holder.Release(locks.VNET)
	if err != nil {
		return fmt.Errorf("control: unassign address: %w", err)
	}

	holder.Acquire(locks.INSTCACHE)
	c.Instances.Map(
		func(rec *domain.InstanceRecord) bool { return rec.Net.PublicIP == op.SrcPublicIP },
		func(rec *domain.InstanceRecord) { rec.Net.PublicIP = "0.0.0.0" },
	)
	holder.Release(locks.INSTCACHE)
	c.checkpointAll()
	return nil
}

// DescribePublicAddresses returns the elastic-IP pool's contents: every
// address currently allocated. There is no network-mode setting, so the
// result does not depend on one.
func (c *Controller) DescribePublicAddresses(ctx context.Context) []string {
	return c.Net.PublicIPs(ctx)
}

func (c *Controller) ConfigureNetwork(ctx context.Context, destName string) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	defer holder.Release(locks.VNET)
	return c.Net.ConfigureNetwork(ctx, destName)
}

func (c *Controller) FlushNetwork(ctx context.Context, destName string) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	defer holder.Release(locks.VNET)
	return c.Net.FlushNetwork(ctx, destName)
}

func (c *Controller) StartNetwork(ctx context.Context, netName string, vlan int, peerCCs []string) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	defer holder.Release(locks.VNET)
	return c.Net.StartNetwork(ctx, netName, vlan, peerCCs)
}

func (c *Controller) StopNetwork(ctx context.Context, netName string, vlan int) error {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	defer holder.Release(locks.VNET)
	return c.Net.StopNetwork(ctx, netName, vlan)
}

func (c *Controller) DescribeNetworks(ctx context.Context) []vnet.Network {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.VNET)
	defer holder.Release(locks.VNET)
	return c.Net.DescribeNetworks(ctx)
}

// ResourceSummary is one element of DescribeResources' result arrays.
type ResourceSummary struct {
	ServiceTag string
	TypeMax    domain.VMShape
	TypeAvail  domain.VMShape
}

// DescribeResources reports max/avail capacity and service tags for every
// known NC (spec.md §6).
func (c *Controller) DescribeResources(ctx context.Context) []ResourceSummary {
	holder := c.Locks.NewHolder()
	holder.Acquire(locks.RESCACHE)
	snapshot := c.Resources.Snapshot()
	holder.Release(locks.RESCACHE)

	return lo.Map(snapshot, func(n *domain.NodeRecord, _ int) ResourceSummary {
		return ResourceSummary{
			ServiceTag: fanout.NCURL(n),
			TypeMax:    domain.VMShape{MemMB: n.MaxMemoryMB, DiskGB: n.MaxDiskGB, Cores: n.MaxCores},
			TypeAvail:  domain.VMShape{MemMB: n.AvailMemoryMB, DiskGB: n.AvailDiskGB, Cores: n.AvailCores},
		}
	})
}
