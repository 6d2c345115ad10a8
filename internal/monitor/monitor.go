// Package monitor implements C8: a background loop that periodically
// refreshes the resource and instance caches from every known NC, and
// drives the power-state machine off what it observes (spec.md §4.7).
package monitor

import (
	"context"
	"time"

	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/fanout"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/locks"
	"github.com/oriys/cc/internal/logging"
	"github.com/oriys/cc/internal/metrics"
	"github.com/oriys/cc/internal/ncclient"
	"github.com/oriys/cc/internal/powerstate"
	"github.com/oriys/cc/internal/resourcecache"
)

// RefreshTimeout is the per-pass operation budget both refresh_resources
// and refresh_instances use (spec.md §4.7: "refresh_resources(timeout=60)").
const RefreshTimeout = 60 * time.Second

// Loop is C8. It owns no state beyond its dependencies; Run blocks until
// ctx is cancelled, matching the teacher's CacheInvalidator.Start shape
// (context-scoped background worker, not a started/stopped goroutine with
// its own lifecycle type).
type Loop struct {
	Resources   *resourcecache.Cache
	Instances   *instancecache.Cache
	Locks       *locks.Registry
	NC          ncclient.Client
	WakeThresh  time.Duration
	IdleThresh  time.Duration
	InstTimeout time.Duration
	Period      time.Duration
	Wake        powerstate.WakeFunc
	PowerDown   powerstate.PowerDownFunc

	holder      *locks.Holder
	emptyStreak map[int]int // per-node consecutive empty describe-instances count
}

// Run ticks every Period (clamped to config.MinPollingFrequency by the
// caller before construction) until ctx is done. The loop is the sole
// caller of tick, so one Holder is reused across ticks (locks.Holder is
// not safe for concurrent use, but is safe for sequential reuse).
func (l *Loop) Run(ctx context.Context) {
	if l.emptyStreak == nil {
		l.emptyStreak = make(map[int]int)
	}
	if l.holder == nil {
		l.holder = l.Locks.NewHolder()
	}
	ticker := time.NewTicker(l.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.refreshResources(ctx)
	l.refreshInstances(ctx)
}

// refreshResources fans a describe-resource call out to every node that is
// not ASLEEP (DOWN nodes are probed too), applying the power-state machine
// to each outcome. ASLEEP nodes are
// skipped entirely — no probe issued, avail/max left untouched (spec.md
// §4.6, §12 supplement).
func (l *Loop) refreshResources(ctx context.Context) {
	l.holder.Acquire(locks.NCCALL)
	defer l.holder.Release(locks.NCCALL)

	snapshot := l.Resources.Snapshot()
	opStart := time.Now()

	targets := make([]fanout.Target, 0, len(snapshot))
	byIndex := make(map[int]*domain.NodeRecord, len(snapshot))
	for i, n := range snapshot {
		byIndex[i] = n
		if n.State == domain.NodeAsleep {
			continue
		}
		targets = append(targets, fanout.Target{Index: i, NCURL: fanout.NCURL(n)})
	}

	outcomes := fanout.Dispatch(ctx, "ncDescribeResource", targets, fanout.Exhaustive, opStart, RefreshTimeout, ncclient.DefaultOpTimeoutPerNode,
		func(ctx context.Context, t fanout.Target) (*domain.NodeRecord, error) {
			return l.NC.DescribeResource(ctx, t.NCURL, domain.Metadata{})
		})

	now := time.Now()
	for _, o := range outcomes {
		n := byIndex[o.Target.Index]
		prevState := n.State
		metrics.Get().RecordNCCall("ncDescribeResource", o.Err == nil)
		if o.Err != nil {
			powerstate.ApplyProbe(n, powerstate.ProbeFailed, now, l.WakeThresh)
			recordTransition(prevState, n.State)
			continue
		}
		n.MaxMemoryMB, n.AvailMemoryMB = o.Value.MaxMemoryMB, o.Value.AvailMemoryMB
		n.MaxDiskGB, n.AvailDiskGB = o.Value.MaxDiskGB, o.Value.AvailDiskGB
		n.MaxCores, n.AvailCores = o.Value.MaxCores, o.Value.AvailCores
		if n.MAC == "" && o.Value.MAC != "" {
			n.MAC = o.Value.MAC // lazy discovery, write-once (spec.md §12)
		}
		powerstate.ApplyProbe(n, powerstate.ProbeSucceeded, now, l.WakeThresh)
		recordTransition(prevState, n.State)
	}

	for i, n := range byIndex {
		l.Resources.Commit(i, n)
		metrics.Get().SetResourceAvailMem(n.Hostname, n.AvailMemoryMB)
	}
}

func recordTransition(from, to domain.NodeState) {
	if from == to {
		return
	}
	metrics.Get().RecordPowerTransition(string(from), string(to))
}

// refreshInstances invalidates stale C1 entries, then fans a
// describe-instances call out to every UP node and upserts what comes
// back. A node whose describe-instances comes back empty twice in a row
// within IdleThresh is the UP→ASLEEP trigger (spec.md §4.6).
func (l *Loop) refreshInstances(ctx context.Context) {
	l.holder.Acquire(locks.NCCALL)
	dropped := l.Instances.InvalidateStale(l.InstTimeout)
	if dropped > 0 {
		logging.Op().Debug("invalidated stale instance cache entries", "count", dropped)
	}

	snapshot := l.Resources.Snapshot()
	opStart := time.Now()

	targets := make([]fanout.Target, 0, len(snapshot))
	byIndex := make(map[int]*domain.NodeRecord, len(snapshot))
	for i, n := range snapshot {
		byIndex[i] = n
		if n.State != domain.NodeUp {
			continue
		}
		targets = append(targets, fanout.Target{Index: i, NCURL: fanout.NCURL(n)})
	}
	l.holder.Release(locks.NCCALL)

	outcomes := fanout.Dispatch(ctx, "ncDescribeInstances", targets, fanout.Exhaustive, opStart, RefreshTimeout, ncclient.DefaultOpTimeoutPerNode,
		func(ctx context.Context, t fanout.Target) ([]*domain.InstanceRecord, error) {
			return l.NC.DescribeInstances(ctx, t.NCURL, domain.Metadata{})
		})

	now := time.Now()
	for _, o := range outcomes {
		n := byIndex[o.Target.Index]
		metrics.Get().RecordNCCall("ncDescribeInstances", o.Err == nil)
		if o.Err != nil {
			continue
		}
		if len(o.Value) == 0 {
			l.emptyStreak[o.Target.Index]++
			if l.emptyStreak[o.Target.Index] >= 2 && now.Sub(n.StateChangeTs) <= l.IdleThresh {
				if err := powerstate.EnterIdle(n, now, l.PowerDown); err != nil {
					logging.Op().Warn("power-down failed", "hostname", n.Hostname, "error", err)
				}
				l.Resources.Commit(o.Target.Index, n)
			}
			continue
		}
		l.emptyStreak[o.Target.Index] = 0
		for _, rec := range o.Value {
			rec.NCHostIdx = o.Target.Index
			l.Instances.Refresh(rec)
		}
	}
	metrics.Get().SetInstanceCacheSize(l.Instances.Len())
}

