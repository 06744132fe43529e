package recovery

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/sharedcode/systx"
)

func TestDispatcher_ConflictingRetries(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewConflict(nil), nil)
	if v != VerdictRetry {
		t.Fatalf("got %v, want VerdictRetry", v)
	}
}

func TestDispatcher_RevocableEscalates(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewRevocable("needs irrevocable"), nil)
	if v != VerdictEscalate {
		t.Fatalf("got %v, want VerdictEscalate", v)
	}
}

func TestDispatcher_ErrnoEAGAINRetries(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewErrno(syscall.EAGAIN), nil)
	if v != VerdictRetry {
		t.Fatalf("EAGAIN: got %v, want VerdictRetry", v)
	}
}

func TestDispatcher_ErrnoEPERMSurfaces(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewErrno(syscall.EPERM), nil)
	if v != VerdictSurface {
		t.Fatalf("EPERM: got %v, want VerdictSurface", v)
	}
}

func TestDispatcher_ErrnoENOMEMRetriesOnceThenSurfaces(t *testing.T) {
	d := New()
	d.BaseDelay = time.Microsecond
	tracker := NewTracker()

	first := d.Classify(context.Background(), systx.NewErrno(syscall.ENOMEM), tracker)
	if first != VerdictRetry {
		t.Fatalf("first ENOMEM: got %v, want VerdictRetry", first)
	}

	second := d.Classify(context.Background(), systx.NewErrno(syscall.ENOMEM), tracker)
	if second != VerdictSurface {
		t.Fatalf("second ENOMEM: got %v, want VerdictSurface", second)
	}
}

func TestDispatcher_ErrnoENOMEMWithoutTrackerAlwaysRetries(t *testing.T) {
	d := New()
	d.BaseDelay = time.Microsecond

	for i := 0; i < 2; i++ {
		v := d.Classify(context.Background(), systx.NewErrno(syscall.ENOMEM), nil)
		if v != VerdictRetry {
			t.Fatalf("attempt %d: got %v, want VerdictRetry (no tracker, no history)", i, v)
		}
	}
}

func TestDispatcher_ErrorCodeIsNonRecoverable(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewErrorCode(systx.ErrGeneral, "bad state"), nil)
	if v != VerdictSurface {
		t.Fatalf("got %v, want VerdictSurface", v)
	}
}

func TestDispatcher_SigInfoDefaultsSurfaced(t *testing.T) {
	d := New()
	v := d.Classify(context.Background(), systx.NewSigInfo("SIGSEGV", false), nil)
	if v != VerdictSurface {
		t.Fatalf("got %v, want VerdictSurface", v)
	}
}

func TestDispatcher_NilErrorRetries(t *testing.T) {
	d := New()
	if v := d.Classify(context.Background(), nil, nil); v != VerdictRetry {
		t.Fatalf("nil error: got %v, want VerdictRetry", v)
	}
}
