package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaygrid/framegate/pkg/frame"
	"github.com/relaygrid/framegate/pkg/frame/idempotency"
)

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, args []byte) ([]byte, error) {
		return args, nil
	})
	o := New(reg, idempotency.New(), time.Second, 2)

	inv := &frame.ToolInvocation{ID: "t1", Name: "echo", Arguments: []byte(`{"a":1}`)}
	o.Invoke(context.Background(), "idem1", inv)

	if inv.State != frame.ToolSucceeded {
		t.Fatalf("State = %v, want Succeeded", inv.State)
	}
	if string(inv.Result) != `{"a":1}` {
		t.Errorf("Result = %q", inv.Result)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	o := New(NewRegistry(), idempotency.New(), time.Second, 0)
	inv := &frame.ToolInvocation{ID: "t1", Name: "missing", Arguments: []byte(`{}`)}
	o.Invoke(context.Background(), "", inv)

	if inv.State != frame.ToolErrored {
		t.Fatalf("State = %v, want Errored", inv.State)
	}
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	reg.Register("flaky", func(ctx context.Context, args []byte) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return []byte(`"ok"`), nil
	})
	o := New(reg, idempotency.New(), time.Second, 5)

	inv := &frame.ToolInvocation{ID: "t1", Name: "flaky", Arguments: []byte(`{}`)}
	o.Invoke(context.Background(), "", inv)

	if inv.State != frame.ToolSucceeded {
		t.Fatalf("State = %v, want Succeeded after retries", inv.State)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestInvokeExhaustsRetries(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func(ctx context.Context, args []byte) ([]byte, error) {
		return nil, errors.New("permanent failure")
	})
	o := New(reg, idempotency.New(), time.Second, 2)

	inv := &frame.ToolInvocation{ID: "t1", Name: "broken", Arguments: []byte(`{}`)}
	o.Invoke(context.Background(), "", inv)

	if inv.State != frame.ToolErrored {
		t.Fatalf("State = %v, want Errored", inv.State)
	}
	if inv.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (1 initial + 2 retries)", inv.Attempts)
	}
}

func TestInvokeRetriesOverride(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	reg.Register("flaky", func(ctx context.Context, args []byte) ([]byte, error) {
		attempts++
		return nil, errors.New("transient failure")
	})
	o := New(reg, idempotency.New(), time.Second, 5)

	noRetries := 0
	inv := &frame.ToolInvocation{ID: "t1", Name: "flaky", Arguments: []byte(`{}`), RetriesOverride: &noRetries}
	o.Invoke(context.Background(), "", inv)

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (override disables retries)", attempts)
	}
	if inv.State != frame.ToolErrored {
		t.Errorf("State = %v, want Errored", inv.State)
	}
	if inv.FinishedAt.Before(inv.StartedAt) {
		t.Errorf("FinishedAt %v precedes StartedAt %v", inv.FinishedAt, inv.StartedAt)
	}
}

func TestInvokeIdempotentCacheHit(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("lookup", func(ctx context.Context, args []byte) ([]byte, error) {
		calls++
		return []byte(`{"v":1}`), nil
	})
	o := New(reg, idempotency.New(), time.Second, 0)

	inv1 := &frame.ToolInvocation{ID: "t1", Name: "lookup", Arguments: []byte(`{"b":2,"a":1}`)}
	o.Invoke(context.Background(), "idemKey", inv1)

	inv2 := &frame.ToolInvocation{ID: "t2", Name: "lookup", Arguments: []byte(`{"a":1,"b":2}`)}
	o.Invoke(context.Background(), "idemKey", inv2)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (second call should hit the cache)", calls)
	}
	if string(inv2.Result) != `{"v":1}` {
		t.Errorf("inv2.Result = %q", inv2.Result)
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	got, err := CanonicalJSON([]byte(`{"b":2,"a":{"d":4,"c":3}}`))
	if err != nil {
		t.Fatalf("CanonicalJSON() error: %v", err)
	}
	want := `{"a":{"c":3,"d":4},"b":2}`
	if got != want {
		t.Errorf("CanonicalJSON() = %q, want %q", got, want)
	}
}

func TestCanonicalJSONInvalid(t *testing.T) {
	if _, err := CanonicalJSON([]byte(`not json`)); err == nil {
		t.Fatal("CanonicalJSON() on invalid json should error")
	}
}
