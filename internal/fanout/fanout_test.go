package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/resourcecache"
)

func TestCandidateRangeUsesCachedNCHostIdx(t *testing.T) {
	ic := instancecache.New()
	rc := resourcecache.New()
	rc.Add(&domain.NodeRecord{Hostname: "nc-0"})
	rc.Add(&domain.NodeRecord{Hostname: "nc-1"})
	ic.Add(&domain.InstanceRecord{InstanceID: "i-1", NCHostIdx: 1})

	r := CandidateRange(ic, rc, "i-1")
	if r.Broadcast {
		t.Fatal("a known instance should not broadcast")
	}
	if r.Start != 1 || r.Stop != 2 {
		t.Fatalf("expected [1,2), got [%d,%d)", r.Start, r.Stop)
	}
}

func TestCandidateRangeFallsBackToBroadcastWhenUnknown(t *testing.T) {
	ic := instancecache.New()
	rc := resourcecache.New()
	rc.Add(&domain.NodeRecord{Hostname: "nc-0"})
	rc.Add(&domain.NodeRecord{Hostname: "nc-1"})
	rc.Add(&domain.NodeRecord{Hostname: "nc-2"})

	r := CandidateRange(ic, rc, "i-missing")
	if !r.Broadcast {
		t.Fatal("expected broadcast fallback for an unknown instance")
	}
	if r.Start != 0 || r.Stop != 3 {
		t.Fatalf("expected [0,3), got [%d,%d)", r.Start, r.Stop)
	}
}

func TestTargetsSkipsNilSlots(t *testing.T) {
	rc := resourcecache.New()
	rc.Add(&domain.NodeRecord{Hostname: "nc-0", NCURL: "http://nc-0:8775/svc"})
	rc.Add(&domain.NodeRecord{Hostname: "nc-1", NCURL: "http://nc-1:8775/svc"})

	targets := Targets(rc, Range{Start: 0, Stop: 5, Broadcast: true})
	if len(targets) != 2 {
		t.Fatalf("expected 2 resolved targets out of range [0,5), got %d", len(targets))
	}
	if targets[0].NCURL != "http://nc-0:8775/svc" || targets[1].NCURL != "http://nc-1:8775/svc" {
		t.Fatalf("unexpected target URLs: %+v", targets)
	}
}

func TestNCURLPrefersPrecomputedField(t *testing.T) {
	n := &domain.NodeRecord{Hostname: "nc-0", NCPort: 8775, NCService: "axis2/services/EucalyptusNC", NCURL: "http://override:1/x"}
	if NCURL(n) != "http://override:1/x" {
		t.Fatalf("expected precomputed NCURL to win, got %s", NCURL(n))
	}
}

func TestNCURLComposesFromParts(t *testing.T) {
	n := &domain.NodeRecord{Hostname: "nc-0", NCPort: 8775, NCService: "axis2/services/EucalyptusNC"}
	want := "http://nc-0:8775/axis2/services/EucalyptusNC"
	if NCURL(n) != want {
		t.Fatalf("expected %s, got %s", want, NCURL(n))
	}
}

func TestDispatchShortCircuitStopsAtFirstSuccess(t *testing.T) {
	targets := []Target{{Index: 0, NCURL: "a"}, {Index: 1, NCURL: "b"}, {Index: 2, NCURL: "c"}}
	var visited []string
	out := Dispatch(context.Background(), "ncRebootInstance", targets, ShortCircuit, time.Now(), time.Second, time.Millisecond,
		func(ctx context.Context, t Target) (struct{}, error) {
			visited = append(visited, t.NCURL)
			return struct{}{}, nil
		})
	if len(visited) != 1 {
		t.Fatalf("expected exactly 1 target visited, got %d: %v", len(visited), visited)
	}
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("unexpected outcomes: %+v", out)
	}
}

func TestDispatchShortCircuitSkipsAheadOnFailure(t *testing.T) {
	targets := []Target{{Index: 0, NCURL: "a"}, {Index: 1, NCURL: "b"}}
	wantErr := errors.New("nc down")
	out := Dispatch(context.Background(), "ncRebootInstance", targets, ShortCircuit, time.Now(), time.Second, time.Millisecond,
		func(ctx context.Context, t Target) (struct{}, error) {
			if t.NCURL == "a" {
				return struct{}{}, wantErr
			}
			return struct{}{}, nil
		})
	if len(out) != 2 {
		t.Fatalf("expected both targets visited after first failed, got %d", len(out))
	}
	if out[0].Err != wantErr || out[1].Err != nil {
		t.Fatalf("unexpected outcomes: %+v", out)
	}
}

func TestDispatchExhaustiveVisitsEveryTarget(t *testing.T) {
	targets := []Target{{Index: 0, NCURL: "a"}, {Index: 1, NCURL: "b"}, {Index: 2, NCURL: "c"}}
	var visited int
	out := Dispatch(context.Background(), "ncTerminateInstance", targets, Exhaustive, time.Now(), time.Second, time.Millisecond,
		func(ctx context.Context, t Target) (struct{}, error) {
			visited++
			return struct{}{}, nil
		})
	if visited != 3 {
		t.Fatalf("expected all 3 targets visited, got %d", visited)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
}

func TestFirstSuccessReturnsFirstNonError(t *testing.T) {
	outcomes := []Outcome[int]{
		{Target: Target{Index: 0}, Err: errors.New("fail")},
		{Target: Target{Index: 1}, Value: 7, Err: nil},
		{Target: Target{Index: 2}, Value: 9, Err: nil},
	}
	v, ok := FirstSuccess(outcomes)
	if !ok || v != 7 {
		t.Fatalf("expected (7, true), got (%d, %v)", v, ok)
	}
}

func TestFirstSuccessAllFailed(t *testing.T) {
	outcomes := []Outcome[int]{
		{Target: Target{Index: 0}, Err: errors.New("fail")},
		{Target: Target{Index: 1}, Err: errors.New("fail")},
	}
	_, ok := FirstSuccess(outcomes)
	if ok {
		t.Fatal("expected ok=false when every outcome failed")
	}
}
