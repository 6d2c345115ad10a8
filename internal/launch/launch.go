// Package launch implements C9: the VM launch pipeline driven by
// RunInstances (spec.md §4.8). It is the most intricate composite in the
// core — network param generation, scheduling, a two-phase NC call, and
// cache admission, one instance slot at a time.
package launch

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/fanout"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/locks"
	"github.com/oriys/cc/internal/logging"
	"github.com/oriys/cc/internal/metrics"
	"github.com/oriys/cc/internal/ncclient"
	"github.com/oriys/cc/internal/powerstate"
	"github.com/oriys/cc/internal/resourcecache"
	"github.com/oriys/cc/internal/scheduler"
	"github.com/oriys/cc/internal/tracing"
)

// NetworkAllocator synthesizes (mac, privateIP, publicIP) for one instance
// slot under VNET, and undoes a reservation that turned out unused. The
// actual vnet subsystem is out of scope (spec.md §1) — this is the named
// capability the pipeline calls.
type NetworkAllocator interface {
	Allocate(ctx context.Context, instanceID string, vlan int, networkIndex *int) (domain.NetConfig, error)
	Release(ctx context.Context, cfg domain.NetConfig) error
}

// DHCPKicker pushes a lease for a newly launched instance's NetConfig.
type DHCPKicker interface {
	Kick(ctx context.Context, cfg domain.NetConfig) error
}

// Pipeline is C9.
type Pipeline struct {
	Resources  *resourcecache.Cache
	Instances  *instancecache.Cache
	Locks      *locks.Registry
	NC         ncclient.Client
	Net        NetworkAllocator
	DHCP       DHCPKicker
	Wake       powerstate.WakeFunc
	Policy     scheduler.Policy
	WakeThresh time.Duration
	OpTimeout  time.Duration

	cursor int // ROUNDROBIN schedState; in memory only, not written to a checkpoint region
}

// SetCursor seeds the round-robin cursor (cmd/cc seeds it from
// config.SchedState at startup).
func (p *Pipeline) SetCursor(c int) { p.cursor = c }

// Cursor returns the current round-robin cursor.
func (p *Pipeline) Cursor() int { return p.cursor }

// Run executes the pipeline for params.MaxCount slots, returning every
// instance it managed to place. minCount is not enforced here (spec.md §9
// Open Question 1) — the caller decides whether result.PartialLaunch is
// acceptable.
func (p *Pipeline) Run(ctx context.Context, meta domain.Metadata, params domain.RunInstancesParams) domain.RunInstancesResult {
	var out []*domain.InstanceRecord
	holder := p.Locks.NewHolder()

	for i := 0; i < params.MaxCount; i++ {
		instID := instanceIDFor(params, i)

		var netIdx *int
		if i < len(params.NetworkIndexList) {
			v := params.NetworkIndexList[i]
			netIdx = &v
		}

		holder.Acquire(locks.VNET)
		netCfg, err := p.Net.Allocate(ctx, instID, params.VLAN, netIdx)
		holder.Release(locks.VNET)
		if err != nil {
			logging.Op().Warn("launch: network param generation failed, skipping slot", "instance_id", instID, "error", err)
			continue
		}

		rec, ok := p.placeOne(ctx, meta, params, i, instID, netCfg, holder)
		if !ok {
			holder.Acquire(locks.VNET)
			_ = p.Net.Release(ctx, netCfg)
			holder.Release(locks.VNET)
			continue
		}
		out = append(out, rec)
	}

	return domain.RunInstancesResult{
		Instances:     out,
		PartialLaunch: len(out) < params.MinCount,
	}
}

// placeOne runs steps 2-6 of spec.md §4.8 for one slot. Returns ok=false
// if no placement succeeded (the slot's network reservation must then be
// undone by the caller).
func (p *Pipeline) placeOne(ctx context.Context, meta domain.Metadata, params domain.RunInstancesParams, idx int, instID string, netCfg domain.NetConfig, holder *locks.Holder) (*domain.InstanceRecord, bool) {
	opStart := time.Now()

	for {
		holder.Acquire(locks.CONFIG)
		holder.Acquire(locks.RESCACHE)
		holder.Acquire(locks.NCCALL)

		policy := p.Policy
		if params.TargetNode != "" {
			policy = scheduler.Explicit
		}
		snapshot := p.Resources.Snapshot()
		decision, nextCursor, err := scheduler.Schedule(snapshot, params.VM, policy, p.cursor, params.TargetNode)
		if err != nil {
			metrics.Get().RecordPlacement(string(policy), false)
			holder.Release(locks.NCCALL)
			holder.Release(locks.RESCACHE)
			holder.Release(locks.CONFIG)
			return nil, false
		}
		metrics.Get().RecordPlacement(string(policy), true)
		p.cursor = nextCursor
		target := snapshot[decision.Index]

		if decision.NeedsWake {
			_ = powerstate.Pick(target, time.Now(), p.Wake)
			p.Resources.Commit(decision.Index, target)
		}

		holder.Release(locks.NCCALL)
		holder.Release(locks.RESCACHE)
		holder.Release(locks.CONFIG)

		ncURL := fanout.NCURL(target)
		ok := p.runWorker(ctx, meta, params, idx, ncURL, params.VLAN)
		if ok {
			holder.Acquire(locks.RESCACHE)
			target.Reserve(params.VM)
			p.Resources.Commit(decision.Index, target)
			holder.Release(locks.RESCACHE)

			rec := p.buildRecord(params, idx, instID, netCfg, decision.Index, ncURL)
			holder.Acquire(locks.INSTCACHE)
			p.Instances.Add(rec)
			holder.Release(locks.INSTCACHE)

			if p.DHCP != nil {
				_ = p.DHCP.Kick(ctx, netCfg)
			}
			return rec, true
		}

		// worker failed: mark the chosen node DOWN, retry a different node
		// while the overall wake-threshold budget remains (spec.md §4.8
		// step 5: "decrement i so the slot retries on a different node").
		holder.Acquire(locks.RESCACHE)
		target.ChangeState(domain.NodeDown, time.Now())
		target.ZeroCapacity()
		p.Resources.Commit(decision.Index, target)
		holder.Release(locks.RESCACHE)

		if time.Since(opStart) >= p.WakeThresh {
			return nil, false
		}
	}
}

// runWorker performs the C4-sandboxed two-call sequence: ncStartNetwork
// then ncRunInstance. ncStartNetwork is called once with a 30s deadline;
// ncRunInstance is wrapped in retry.Do for up to runInstanceAttempts tries.
// The p.WakeThresh bound on retrying across nodes lives in placeOne's loop.
func (p *Pipeline) runWorker(ctx context.Context, meta domain.Metadata, params domain.RunInstancesParams, idx int, ncURL string, vlan int) bool {
	netCtx, netSpan := tracing.StartNCSpan(ctx, "ncStartNetwork", ncURL)
	netCtx, cancel := context.WithTimeout(netCtx, 30*time.Second)
	netResult := ncclient.Call(netCtx, 30*time.Second, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.NC.StartNetwork(ctx, ncURL, meta, vlan)
	})
	cancel()
	tracing.EndWithErr(netSpan, netResult.Err)
	netSpan.End()
	metrics.Get().RecordNCCall("ncStartNetwork", netResult.Err == nil)
	if netResult.Err != nil {
		return false
	}

	runCtx, runSpan := tracing.StartNCSpan(ctx, "ncRunInstance", ncURL)
	defer runSpan.End()
	deadline := ncclient.PerCallDeadline(time.Now(), p.OpTimeout, 1, ncclient.DefaultOpTimeoutPerNode)
	err := retry.Do(func() error {
		r := ncclient.Call(runCtx, deadline, func(ctx context.Context) (*domain.InstanceRecord, error) {
			return p.NC.RunInstance(ctx, ncURL, meta, params, idx)
		})
		return r.Err
	}, retry.Context(runCtx), retry.Attempts(runInstanceAttempts), retry.Delay(250*time.Millisecond), retry.LastErrorOnly(true))
	tracing.EndWithErr(runSpan, err)
	metrics.Get().RecordNCCall("ncRunInstance", err == nil)
	return err == nil
}

// runInstanceAttempts bounds the transient-failure retry of one
// ncRunInstance call against the node already chosen by the scheduler.
// This is deliberately small: placeOne's loop is what implements
// the wake-threshold-bounded node-failover retry (spec.md §4.8 step 5),
// picking a different node once this node's budget is exhausted. An
// unbounded retry here (retry.Attempts(0), avast/retry-go's "forever"
// sentinel) would starve that outer loop instead of feeding it failures.
const runInstanceAttempts = 2

func (p *Pipeline) buildRecord(params domain.RunInstancesParams, idx int, instID string, netCfg domain.NetConfig, ncHostIdx int, ncURL string) *domain.InstanceRecord {
	return &domain.InstanceRecord{
		InstanceID:    instID,
		ReservationID: params.ReservationID,
		OwnerID:       params.OwnerID,
		AMIID:         params.AMIID,
		KernelID:      params.KernelID,
		RamdiskID:     params.RamdiskID,
		AMIURL:        params.AMIURL,
		KernelURL:     params.KernelURL,
		RamdiskURL:    params.RamdiskURL,
		KeyName:       params.KeyName,
		LaunchIndex:   params.LaunchIndex,
		UserData:      params.UserData,
		State:         "Pending",
		Ts:            time.Now(),
		NCHostIdx:     ncHostIdx,
		ServiceTag:    ncURL,
		Net:           netCfg,
		VM:            params.VM,
	}
}

func instanceIDFor(params domain.RunInstancesParams, i int) string {
	if i < len(params.InstanceIDs) && params.InstanceIDs[i] != "" {
		return params.InstanceIDs[i]
	}
	return params.ReservationID + "-" + itoa(i)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
