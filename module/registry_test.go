package module

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_RegisterRejectsBeyondSlotCount(t *testing.T) {
	r := New()
	for i := 0; i < slotCount; i++ {
		if _, err := r.Register(Descriptor{}); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := r.Register(Descriptor{}); err == nil {
		t.Fatalf("expected registration beyond slotCount to fail")
	}
}

func TestRegistry_LockOrderForwardUnlockOrderReverse(t *testing.T) {
	r := New()
	var order []string
	register := func(name string) {
		_, err := r.Register(Descriptor{
			Lock:   func(context.Context, any) error { order = append(order, "lock:"+name); return nil },
			Unlock: func(context.Context, any) error { order = append(order, "unlock:"+name); return nil },
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	register("a")
	register("b")
	register("c")

	ctx := context.Background()
	if err := r.ForEachLock(ctx); err != nil {
		t.Fatalf("ForEachLock: %v", err)
	}
	if err := r.ForEachUnlock(ctx); err != nil {
		t.Fatalf("ForEachUnlock: %v", err)
	}

	want := []string{"lock:a", "lock:b", "lock:c", "unlock:c", "unlock:b", "unlock:a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestRegistry_NilCallbacksAreNoops(t *testing.T) {
	r := New()
	if _, err := r.Register(Descriptor{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	if err := r.ForEachLock(ctx); err != nil {
		t.Fatalf("ForEachLock with nil Lock should be a no-op, got: %v", err)
	}
	if err := r.ForEachFinish(ctx); err != nil {
		t.Fatalf("ForEachFinish with nil Finish should be a no-op, got: %v", err)
	}
}

func TestRegistry_TwoPhaseCommitSequence(t *testing.T) {
	r := New()
	var order []string
	_, _ = r.Register(Descriptor{
		TPCRequest: func(context.Context, any) error { order = append(order, "request"); return nil },
		Validate:   func(context.Context, any, bool) error { order = append(order, "validate"); return nil },
		TPCSuccess: func(context.Context, any) error { order = append(order, "success"); return nil },
		TPCNoUndo:  func(context.Context, any) error { order = append(order, "noundo"); return nil },
	})

	if err := r.TwoPhaseCommit(context.Background(), false); err != nil {
		t.Fatalf("TwoPhaseCommit: %v", err)
	}
	want := []string{"request", "validate", "success"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want prefix %v", order, want)
		}
	}

	order = nil
	if err := r.TwoPhaseCommit(context.Background(), true); err != nil {
		t.Fatalf("TwoPhaseCommit noundo: %v", err)
	}
	want = []string{"request", "validate", "noundo"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("noundo order = %v, want %v", order, want)
		}
	}
}

func TestRegistry_TwoPhaseCommitValidateFailureCallsTPCFailure(t *testing.T) {
	r := New()
	var failureCalled bool
	_, _ = r.Register(Descriptor{
		Validate:   func(context.Context, any, bool) error { return errors.New("conflict") },
		TPCFailure: func(context.Context, any) error { failureCalled = true; return nil },
	})
	if err := r.TwoPhaseCommit(context.Background(), false); err == nil {
		t.Fatalf("expected validate failure to propagate")
	}
	if !failureCalled {
		t.Fatalf("expected TPCFailure to be invoked on validate failure")
	}
}
