package ncclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPerCallDeadlineDividesRemainingBudget(t *testing.T) {
	opStart := time.Now().Add(-10 * time.Second)
	d := PerCallDeadline(opStart, 60*time.Second, 5, 1*time.Second)
	// ~50s remaining / 5 targets = ~10s, well above the 1s floor.
	if d < 8*time.Second || d > 11*time.Second {
		t.Fatalf("expected ~10s, got %s", d)
	}
}

func TestPerCallDeadlineClampsToFloor(t *testing.T) {
	opStart := time.Now().Add(-59 * time.Second)
	d := PerCallDeadline(opStart, 60*time.Second, 10, 5*time.Second)
	if d != 5*time.Second {
		t.Fatalf("expected floor of 5s, got %s", d)
	}
}

func TestPerCallDeadlineZeroTargetsLeftTreatedAsOne(t *testing.T) {
	opStart := time.Now().Add(-10 * time.Second)
	d := PerCallDeadline(opStart, 60*time.Second, 0, 1*time.Second)
	if d < 48*time.Second || d > 51*time.Second {
		t.Fatalf("expected ~50s (treating targetsLeft=0 as 1), got %s", d)
	}
}

func TestCallReturnsValueOnSuccess(t *testing.T) {
	r := Call(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if r.Err != nil || r.TimedOut {
		t.Fatalf("unexpected failure: %+v", r)
	}
	if r.Value != 42 {
		t.Fatalf("expected 42, got %d", r.Value)
	}
}

func TestCallPropagatesFnError(t *testing.T) {
	wantErr := errors.New("nc rejected the call")
	r := Call(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if r.Err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, r.Err)
	}
	if r.TimedOut {
		t.Fatal("a returned error is not a timeout")
	}
}

func TestCallTimesOutAndCancelsContext(t *testing.T) {
	fnCtxDone := make(chan struct{})
	r := Call(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(fnCtxDone)
		return 0, ctx.Err()
	})
	if !r.TimedOut {
		t.Fatal("expected TimedOut=true")
	}
	select {
	case <-fnCtxDone:
	case <-time.After(time.Second):
		t.Fatal("fn's context was never cancelled")
	}
}

func TestCallDefaultsNonPositiveDeadline(t *testing.T) {
	r := Call(context.Background(), 0, func(ctx context.Context) (int, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline to be set")
		}
		if time.Until(deadline) > DefaultOpTimeoutPerNode {
			t.Fatal("expected deadline to default to DefaultOpTimeoutPerNode")
		}
		return 1, nil
	})
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
}
