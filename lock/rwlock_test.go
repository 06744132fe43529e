package lock

import (
	"sync"
	"testing"
)

func TestRWLock_ReadersDontBlockReaders(t *testing.T) {
	var l RWLock
	for i := 0; i < 10; i++ {
		if !l.TryRLock() {
			t.Fatalf("reader %d failed to acquire", i)
		}
	}
	readers, writeHeld := l.State()
	if writeHeld || readers != 10 {
		t.Fatalf("expected 10 readers, got readers=%d writeHeld=%v", readers, writeHeld)
	}
}

func TestRWLock_WriterExcludesReaders(t *testing.T) {
	var l RWLock
	if !l.TryWLock(false) {
		t.Fatalf("writer failed to acquire uncontended lock")
	}
	if l.TryRLock() {
		t.Fatalf("reader acquired while write-locked")
	}
	l.Unlock()
	if !l.TryRLock() {
		t.Fatalf("reader failed to acquire after writer released")
	}
}

func TestRWLock_UpgradeRequiresSoleReader(t *testing.T) {
	var l RWLock
	if !l.TryRLock() {
		t.Fatalf("first read failed")
	}
	if !l.TryWLock(true) {
		t.Fatalf("sole reader failed to upgrade")
	}
	l.Unlock()

	if !l.TryRLock() || !l.TryRLock() {
		t.Fatalf("two reads failed")
	}
	if l.TryWLock(true) {
		t.Fatalf("upgrade succeeded with two readers present")
	}
}

func TestRWLock_RejectsReaderPastMax(t *testing.T) {
	var l RWLock
	for i := uint32(0); i < maxReaders; i++ {
		if !l.TryRLock() {
			t.Fatalf("reader %d unexpectedly rejected", i)
		}
	}
	if l.TryRLock() {
		t.Fatalf("reader accepted past maxReaders")
	}
}

func TestRWLock_ConcurrentReadersAndWriter(t *testing.T) {
	var l RWLock
	var wg sync.WaitGroup
	var successfulReads, successfulWrites int
	var mu sync.Mutex

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryRLock() {
				mu.Lock()
				successfulReads++
				mu.Unlock()
				l.Unlock()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if l.TryWLock(false) {
			mu.Lock()
			successfulWrites++
			mu.Unlock()
			l.Unlock()
		}
	}()
	wg.Wait()

	readers, writeHeld := l.State()
	if readers != 0 || writeHeld {
		t.Fatalf("lock not released at end of contention: readers=%d writeHeld=%v", readers, writeHeld)
	}
}

func TestRWCounter_RepeatedAcquireIsNoop(t *testing.T) {
	shared := &RWLock{}
	c := NewRWCounter(shared)

	if !c.RLock() {
		t.Fatalf("first RLock failed")
	}
	if !c.RLock() {
		t.Fatalf("repeat RLock by same transaction failed")
	}
	readers, _ := shared.State()
	if readers != 1 {
		t.Fatalf("expected shared lock to see exactly 1 reader, got %d", readers)
	}

	c.Release()
	readers, _ = shared.State()
	if readers != 1 {
		t.Fatalf("release of non-final acquisition should not touch shared lock, got readers=%d", readers)
	}
	c.Release()
	readers, writeHeld := shared.State()
	if readers != 0 || writeHeld {
		t.Fatalf("final release should drop shared lock, got readers=%d writeHeld=%v", readers, writeHeld)
	}
}

func TestRWCounter_UpgradeThenRepeatWrite(t *testing.T) {
	shared := &RWLock{}
	c := NewRWCounter(shared)

	if !c.RLock() {
		t.Fatalf("RLock failed")
	}
	if !c.WLock() {
		t.Fatalf("upgrade failed")
	}
	if !c.WroteEver() {
		t.Fatalf("expected WroteEver after upgrade")
	}
	_, writeHeld := shared.State()
	if !writeHeld {
		t.Fatalf("expected shared lock to be write-held after upgrade")
	}
	// Further WLock calls by the same transaction are no-ops on the shared lock.
	if !c.WLock() {
		t.Fatalf("repeat WLock failed")
	}
	c.Release()
	_, writeHeld = shared.State()
	if !writeHeld {
		t.Fatalf("lock released too early")
	}
	c.Release()
	c.Release()
	_, writeHeld = shared.State()
	if writeHeld {
		t.Fatalf("lock not released after matching releases")
	}
}

func TestRWCounter_OtherTransactionSeesConflict(t *testing.T) {
	shared := &RWLock{}
	a := NewRWCounter(shared)
	b := NewRWCounter(shared)

	if !a.WLock() {
		t.Fatalf("a failed to acquire write")
	}
	if b.RLock() {
		t.Fatalf("b acquired read while a holds write")
	}
	a.Release()
	if !b.RLock() {
		t.Fatalf("b failed to acquire read after a released")
	}
}
