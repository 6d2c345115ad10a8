// Package fanout implements C5: given a verb and an instance-addressed
// target, compute the candidate NC range and drive it through the C4
// sandbox, applying the per-verb completion rule (spec.md §4.4).
package fanout

import (
	"context"
	"strconv"
	"time"

	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/ncclient"
	"github.com/oriys/cc/internal/resourcecache"
	"github.com/oriys/cc/internal/tracing"
)

// Rule selects how the engine reduces per-target outcomes into one answer.
type Rule int

const (
	// ShortCircuit stops at the first success (reboot, attach, detach,
	// get-console — idempotent hit-once semantics).
	ShortCircuit Rule = iota
	// Exhaustive visits every target in range regardless of earlier
	// outcomes, recording per-target success/failure (terminate).
	Exhaustive
)

// Range is the candidate NC set for one instance-addressed verb.
type Range struct {
	Start, Stop int // iterate j in [Start, Stop)
	Broadcast   bool
}

// CandidateRange computes the candidate NC range for instanceID (spec.md
// §4.4 steps 1-3): the instance's cached NC if known, else the whole
// fleet. An instance absent from the cache (e.g. after a CC restart with a
// cold cache) gets a broadcast range. A cached mapping is used as is, even
// if stale: the range holds that one NC, and no broadcast follows a failure
// there.
func CandidateRange(ic *instancecache.Cache, rc *resourcecache.Cache, instanceID string) Range {
	if rec := ic.FindByID(instanceID); rec != nil {
		return Range{Start: rec.NCHostIdx, Stop: rec.NCHostIdx + 1}
	}
	return Range{Start: 0, Stop: rc.NumResources(), Broadcast: true}
}

// Target is one NC in a candidate range, ready to dispatch through C4.
type Target struct {
	Index int
	NCURL string
}

// Targets resolves a Range into concrete dispatch targets by reading NC
// URLs out of the resource cache snapshot. Must be called with whatever
// cache lock the caller holds released before the fan-out loop performs
// NC I/O (spec.md §4.3: "the caller does not hold any cache lock during
// the wait").
func Targets(rc *resourcecache.Cache, r Range) []Target {
	out := make([]Target, 0, r.Stop-r.Start)
	for j := r.Start; j < r.Stop; j++ {
		n := rc.At(j)
		if n == nil {
			continue
		}
		out = append(out, Target{Index: j, NCURL: NCURL(n)})
	}
	return out
}

// NCURL composes the dial target for a node, preferring a precomputed
// NCURL field and falling back to "http://<host>:<port>/<service>".
func NCURL(n *domain.NodeRecord) string {
	return ncURL(n)
}

func ncURL(n *domain.NodeRecord) string {
	if n.NCURL != "" {
		return n.NCURL
	}
	return "http://" + n.Hostname + ":" + strconv.Itoa(n.NCPort) + "/" + n.NCService
}

// Outcome is one target's dispatch result.
type Outcome[T any] struct {
	Target Target
	Value  T
	Err    error
}

// Dispatch drives fn against every target in r according to rule,
// deriving each target's deadline from ncclient.PerCallDeadline so a
// multi-target fan-out still makes forward progress when early targets
// hang. opStart/opTimeout/perNodeFloor are the same budget the sandbox
// uses for one call.
func Dispatch[T any](
	ctx context.Context,
	verb string,
	targets []Target,
	rule Rule,
	opStart time.Time,
	opTimeout, perNodeFloor time.Duration,
	fn func(ctx context.Context, t Target) (T, error),
) []Outcome[T] {
	results := make([]Outcome[T], 0, len(targets))
	for i, t := range targets {
		d := ncclient.PerCallDeadline(opStart, opTimeout, len(targets)-i, perNodeFloor)
		spanCtx, span := tracing.StartNCSpan(ctx, verb, t.NCURL)
		r := ncclient.Call(spanCtx, d, func(ctx context.Context) (T, error) {
			return fn(ctx, t)
		})
		tracing.EndWithErr(span, r.Err)
		span.End()
		results = append(results, Outcome[T]{Target: t, Value: r.Value, Err: r.Err})
		if rule == ShortCircuit && r.Err == nil {
			break
		}
	}
	return results
}

// FirstSuccess returns the value and true from the first outcome with no
// error, or the zero value and false if every target failed.
func FirstSuccess[T any](outcomes []Outcome[T]) (T, bool) {
	for _, o := range outcomes {
		if o.Err == nil {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}
