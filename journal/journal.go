// Package journal implements the append-only event journal: the record
// of every side-effectful operation a transaction has performed,
// replayed forward on commit and unwound in reverse on rollback.
package journal

import "fmt"

// ModuleID identifies the registered module that owns an event.
type ModuleID uint16

// Event is a journal record: which module performed the operation,
// what call it made, and a module-local cookie indexing the concrete
// arguments/undo data for that call. In-memory only; there is no
// on-wire or on-disk representation.
type Event struct {
	ModuleID ModuleID
	Call     uint16
	Cookie   uint32
}

// ApplyFunc applies a contiguous run of same-module events. It
// receives the full events slice and a [start,end) range so a module
// can amortize work across the run. A non-nil return aborts apply with
// that error.
type ApplyFunc func(events []Event, start, end int, noundo bool) error

// UndoFunc undoes a single event. A non-nil return is fatal: partial
// rollback leaves the world in an unknown state, so the caller must
// treat it as unrecoverable.
type UndoFunc func(ev Event, noundo bool) error

// Journal is a per-transaction, thread-local, append-only event table.
type Journal struct {
	events []Event
}

// New returns an empty journal with capacity pre-sized for a typical
// transaction's operation count.
func New() *Journal {
	return &Journal{events: make([]Event, 0, 32)}
}

// eventSize is a nominal per-Event footprint (ModuleID uint16 + Call
// uint16 + Cookie uint32) used only to size growth steps; it does not
// need to match unsafe.Sizeof exactly.
const eventSize = 8

// growthThreshold bounds doubling growth: a table at or above this many
// elements grows linearly to exactly the requested size instead of
// doubling, the fallback a fixed-size reallocation step takes rather
// than risk doubling an already-large allocation under memory pressure.
const growthThreshold = 4096

// TabResize returns the capacity a side table of elemSize-byte elements
// should grow to so it holds at least newN elements, given its current
// capacity oldN: doubling below growthThreshold, linear (exactly newN)
// at or above it. Module authors keeping their own growable cookie- or
// undo-payload tables can reuse this instead of hand-rolling their own
// growth policy.
func TabResize(oldN, newN, elemSize int) int {
	if newN <= oldN {
		return oldN
	}
	if oldN >= growthThreshold {
		return newN
	}
	grown := oldN * 2
	if grown < newN {
		grown = newN
	}
	return grown
}

// resizeCookieTable grows j.events' backing array ahead of an Inject
// that would otherwise trigger append's own reallocation, using
// TabResize's doubling-with-linear-fallback policy in place of the
// runtime's built-in growth factor.
func (j *Journal) resizeCookieTable(newLen int) {
	if newLen <= cap(j.events) {
		return
	}
	newCap := TabResize(cap(j.events), newLen, eventSize)
	grown := make([]Event, len(j.events), newCap)
	copy(grown, j.events)
	j.events = grown
}

// Inject appends an event in program order and returns its index.
func (j *Journal) Inject(module ModuleID, call uint16, cookie uint32) int {
	j.resizeCookieTable(len(j.events) + 1)
	j.events = append(j.events, Event{ModuleID: module, Call: call, Cookie: cookie})
	return len(j.events) - 1
}

// Len reports the number of recorded events.
func (j *Journal) Len() int {
	return len(j.events)
}

// Reset empties the journal for reuse by the next transaction attempt.
func (j *Journal) Reset() {
	j.events = j.events[:0]
}

// RetryVerdict tells ApplyAll what to do after a failed apply of an event run.
type RetryVerdict int

const (
	// VerdictAbort surfaces the apply error to the caller immediately.
	VerdictAbort RetryVerdict = iota
	// VerdictRetry re-attempts the same run of events.
	VerdictRetry
	// VerdictSkip abandons this run and continues with the next module.
	VerdictSkip
)

// ApplyAll iterates the journal forward, grouping consecutive events
// with equal ModuleID, and invokes apply once per group. On a non-nil
// apply error it consults onFailure to decide whether to retry that
// same group, skip it, or abort the whole commit.
func (j *Journal) ApplyAll(noundo bool, apply ApplyFunc, onFailure func(error) RetryVerdict) error {
	i := 0
	for i < len(j.events) {
		start := i
		mod := j.events[i].ModuleID
		end := i + 1
		for end < len(j.events) && j.events[end].ModuleID == mod {
			end++
		}
		err := apply(j.events, start, end, noundo)
		if err == nil {
			i = end
			continue
		}
		verdict := VerdictAbort
		if onFailure != nil {
			verdict = onFailure(err)
		}
		switch verdict {
		case VerdictRetry:
			continue
		case VerdictSkip:
			i = end
			continue
		default:
			return err
		}
	}
	return nil
}

// UndoAll iterates the journal backward, one event at a time, invoking
// undo on each. A failure to undo is fatal and returned immediately:
// the journal offers no partial-rollback recovery.
func (j *Journal) UndoAll(noundo bool, undo UndoFunc) error {
	for i := len(j.events) - 1; i >= 0; i-- {
		if err := undo(j.events[i], noundo); err != nil {
			return fmt.Errorf("journal: undo of event %d (module %d, call %d) failed, process state is unknown: %w",
				i, j.events[i].ModuleID, j.events[i].Call, err)
		}
	}
	return nil
}

// Events exposes the recorded events read-only, for inspection/tests.
func (j *Journal) Events() []Event {
	return j.events
}
