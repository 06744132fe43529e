package journal

import "testing"

func TestJournal_ApplyAllGroupsConsecutiveModules(t *testing.T) {
	j := New()
	j.Inject(1, 0, 0)
	j.Inject(1, 0, 1)
	j.Inject(2, 0, 0)
	j.Inject(1, 0, 2)

	var groups [][2]int
	err := j.ApplyAll(false, func(events []Event, start, end int, noundo bool) error {
		groups = append(groups, [2]int{start, end})
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	want := [][2]int{{0, 2}, {2, 3}, {3, 4}}
	if len(groups) != len(want) {
		t.Fatalf("got %d groups, want %d: %v", len(groups), len(want), groups)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("group %d = %v, want %v", i, groups[i], want[i])
		}
	}
}

func TestJournal_ApplyAllRetryThenSkipThenAbort(t *testing.T) {
	j := New()
	j.Inject(1, 0, 0)
	j.Inject(2, 0, 0)
	j.Inject(3, 0, 0)

	attempts := map[ModuleID]int{}
	err := j.ApplyAll(false, func(events []Event, start, end int, noundo bool) error {
		mod := events[start].ModuleID
		attempts[mod]++
		if mod == 1 && attempts[mod] < 3 {
			return errFake{}
		}
		if mod == 2 {
			return errFake{}
		}
		if mod == 3 {
			return errFake{}
		}
		return nil
	}, func(err error) RetryVerdict {
		// module 1 gets retried until it succeeds, module 2 is skipped,
		// module 3 aborts the whole commit.
		return verdictFor(attempts)
	})
	if err == nil {
		t.Fatalf("expected abort error from module 3")
	}
	if attempts[1] != 3 {
		t.Fatalf("expected module 1 to be retried to success, got %d attempts", attempts[1])
	}
	if attempts[2] != 1 {
		t.Fatalf("expected module 2 to be skipped after one attempt, got %d", attempts[2])
	}
	if attempts[3] != 1 {
		t.Fatalf("expected module 3 to abort after one attempt, got %d", attempts[3])
	}
}

func verdictFor(attempts map[ModuleID]int) RetryVerdict {
	switch {
	case attempts[1] > 0 && attempts[1] < 3 && attempts[2] == 0 && attempts[3] == 0:
		return VerdictRetry
	case attempts[2] > 0 && attempts[3] == 0:
		return VerdictSkip
	default:
		return VerdictAbort
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake failure" }

func TestJournal_UndoAllReverseOrder(t *testing.T) {
	j := New()
	j.Inject(1, 0, 10)
	j.Inject(1, 0, 20)
	j.Inject(1, 0, 30)

	var undone []uint32
	err := j.UndoAll(false, func(ev Event, noundo bool) error {
		undone = append(undone, ev.Cookie)
		return nil
	})
	if err != nil {
		t.Fatalf("UndoAll: %v", err)
	}
	want := []uint32{30, 20, 10}
	for i := range want {
		if undone[i] != want[i] {
			t.Fatalf("undo order = %v, want %v", undone, want)
		}
	}
}

func TestJournal_UndoAllFailureIsFatal(t *testing.T) {
	j := New()
	j.Inject(1, 0, 1)
	j.Inject(1, 0, 2)

	calls := 0
	err := j.UndoAll(false, func(ev Event, noundo bool) error {
		calls++
		return errFake{}
	})
	if err == nil {
		t.Fatalf("expected fatal error on first undo failure")
	}
	if calls != 1 {
		t.Fatalf("expected undo to stop at first failure, got %d calls", calls)
	}
}

func TestTabResize_DoublesBelowThresholdLinearAtOrAbove(t *testing.T) {
	if got := TabResize(0, 1, eventSize); got != 1 {
		t.Fatalf("from empty: got %d, want 1", got)
	}
	if got := TabResize(4, 5, eventSize); got != 8 {
		t.Fatalf("doubling: got %d, want 8", got)
	}
	if got := TabResize(10, 9, eventSize); got != 10 {
		t.Fatalf("newN <= oldN should be a no-op: got %d, want 10", got)
	}
	if got := TabResize(growthThreshold, growthThreshold+1, eventSize); got != growthThreshold+1 {
		t.Fatalf("at threshold: got %d, want linear %d", got, growthThreshold+1)
	}
}

func TestJournal_InjectGrowsPastInitialCapacity(t *testing.T) {
	j := New()
	initialCap := cap(j.events)
	for i := 0; i < initialCap+4; i++ {
		j.Inject(1, 0, uint32(i))
	}
	if j.Len() != initialCap+4 {
		t.Fatalf("got %d events, want %d", j.Len(), initialCap+4)
	}
	if cap(j.events) < j.Len() {
		t.Fatalf("capacity %d fell behind length %d", cap(j.events), j.Len())
	}
	for i, ev := range j.Events() {
		if ev.Cookie != uint32(i) {
			t.Fatalf("event %d cookie = %d, want %d (growth must preserve order)", i, ev.Cookie, i)
		}
	}
}

func TestJournal_ResetForReuse(t *testing.T) {
	j := New()
	j.Inject(1, 0, 0)
	j.Inject(1, 0, 1)
	if j.Len() != 2 {
		t.Fatalf("expected 2 events")
	}
	j.Reset()
	if j.Len() != 0 {
		t.Fatalf("expected journal to be empty after Reset")
	}
}
