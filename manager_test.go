package nvram

import (
	"math/rand"
	"testing"

	"github.com/outpost-embedded/nvram/emulatedflash"
)

const (
	testFlashSize = 64 * 1024
	testBlockSize = 4 * 1024
)

// forEachAlignment runs fn against both flash geometries: plain
// word-programmable flash and flash requiring fused double-word writes.
func forEachAlignment(t *testing.T, fn func(t *testing.T, doubleWrite bool)) {
	t.Run("word", func(t *testing.T) { fn(t, false) })
	t.Run("doubleword", func(t *testing.T) { fn(t, true) })
}

func newTestManager(t *testing.T, doubleWrite bool) (*Manager, *emulatedflash.Flash) {
	t.Helper()
	flash := emulatedflash.New(testFlashSize, testBlockSize, doubleWrite)
	mgr := NewManager(flash, nil)
	if !mgr.Initialize(0, testFlashSize, InitReset) {
		t.Fatal("Initialize(reset) reported a leftover corrupted block")
	}
	return mgr, flash
}

func TestFixedStorageAddAndFind(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewFixedStorage[[4]byte](mgr, id)

		r1 := s.Add([4]byte{1, 2, 0, 0})
		if !r1.Valid() || r1.Bytes()[0] != 1 || r1.Bytes()[1] != 2 {
			t.Fatalf("unexpected first add result: %+v", r1)
		}
		r2 := s.Add([4]byte{3, 4, 0, 0})
		if !r2.Valid() || r2.Bytes()[0] != 3 || r2.Bytes()[1] != 4 {
			t.Fatalf("unexpected second add result: %+v", r2)
		}

		un, ok := s.UnorderedFirst()
		if !ok {
			t.Fatal("UnorderedFirst found nothing")
		}
		_ = un

		newest, ok := s.NewestFirst()
		if !ok || newest != [4]byte{3, 4, 0, 0} {
			t.Fatalf("NewestFirst = %v, ok=%v", newest, ok)
		}
		oldest, ok := s.OldestFirst()
		if !ok || oldest != [4]byte{1, 2, 0, 0} {
			t.Fatalf("OldestFirst = %v, ok=%v", oldest, ok)
		}

		oldestRec := mgr.FindOldestFirst(id, 0)
		newestRec := mgr.FindNewestFirst(id, 0)
		if mgr.FindOldestFirst(id, 0).off != oldestRec.off {
			t.Fatal("OldestFirst not stable")
		}
		if mgr.FindNewestFirst(id, 0).off != newestRec.off {
			t.Fatal("NewestFirst not stable")
		}
	})
}

func TestVariableStorageLengths(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewVariableStorage(mgr, id)

		s.Add([]byte{0, 0, 0, 1})
		s.Add([]byte{0, 0, 0, 2, 3, 4})

		oldest := s.OldestFirst()
		newest := s.NewestFirst()
		if len(oldest) != 4 {
			t.Fatalf("OldestFirst length = %d, want 4", len(oldest))
		}
		if len(newest) != 6 {
			t.Fatalf("NewestFirst length = %d, want 6", len(newest))
		}
	})
}

// An interrupted variable-record write on double-word flash leaves payload
// bytes behind an all-ones header doubleword; the next write must shred the
// garbage, land after it, and leave every committed record reachable.
func TestVariableRepairSkipsUnfinishedWrite(t *testing.T) {
	flash := emulatedflash.New(testFlashSize, testBlockSize, true)
	mgr := NewManager(flash, nil)
	if !mgr.Initialize(0, testFlashSize, InitReset) {
		t.Fatal("Initialize(reset) reported a leftover corrupted block")
	}
	id := NewID("TEST")
	s := NewVariableStorage(mgr, id)

	if !s.Add([]byte{1, 0, 0, 0, 0xAA, 0xBB}).Valid() {
		t.Fatal("first Add failed")
	}

	// fake a write that lost power after its payload landed but before the
	// fused {length, firstWord} header was programmed
	p := mgr.First(id)
	free := mgr.findFree(p)
	flash.Write(free+4, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	if !s.Add([]byte{2, 0, 0, 0, 9}).Valid() {
		t.Fatal("Add after unfinished write failed")
	}

	old := mgr.FindUnorderedFirst(id, 1)
	if !old.Valid() || old.Bytes()[4] != 0xAA {
		t.Fatal("committed record lost during repair")
	}
	repaired := mgr.FindUnorderedFirst(id, 2)
	if !repaired.Valid() || len(repaired.Bytes()) != 5 || repaired.Bytes()[4] != 9 {
		t.Fatalf("record written over garbage not readable: %+v", repaired)
	}
	if repaired.off <= free {
		t.Fatalf("new record at %d did not land past the garbage at %d", repaired.off, free)
	}
}

func TestFixedKeyStorageReplace(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewFixedUniqueKeyStorage[[2]byte](mgr, id)

		s.Set(1, [2]byte{1, 2})
		s.Set(2, [2]byte{3, 4})
		s.Set(1, [2]byte{5, 6})
		s.Set(2, [2]byte{7, 8})
		s.Set(1, [2]byte{9, 10})
		s.Set(2, [2]byte{11, 12})

		v1, ok := s.Get(1)
		if !ok || v1 != [2]byte{9, 10} {
			t.Fatalf("key 1 = %v, ok=%v, want {9 10}", v1, ok)
		}
		v2, ok := s.Get(2)
		if !ok || v2 != [2]byte{11, 12} {
			t.Fatalf("key 2 = %v, ok=%v, want {11 12}", v2, ok)
		}

		// exactly one live record per key
		n1 := countRecords(mgr, id, 1)
		n2 := countRecords(mgr, id, 2)
		if n1 != 1 || n2 != 1 {
			t.Fatalf("expected exactly one record per key, got n1=%d n2=%d", n1, n2)
		}
	})
}

func countRecords(mgr *Manager, id ID, firstWord uint32) int {
	n := 0
	for r := mgr.FindUnorderedFirst(id, firstWord); r.Valid(); r = mgr.FindUnorderedNext(r, firstWord) {
		n++
	}
	return n
}

func TestNewPageExhaustion(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")

		total := 0
		var lastSeq uint16
		for {
			p, ok := func() (Page, bool) {
				mgr.mu.Lock()
				defer mgr.mu.Unlock()
				return mgr.newPage(id, 8)
			}()
			if !ok {
				break
			}
			total++
			if p.Sequence() != lastSeq+1 {
				t.Fatalf("sequence out of order: got %d after %d", p.Sequence(), lastSeq)
			}
			lastSeq = p.Sequence()
		}

		want := (testFlashSize / testBlockSize) * mgr.Layout().PagesPerBlock
		if total != want {
			t.Fatalf("allocated %d pages, want %d", total, want)
		}
	})
}

func TestCollectorDiscardOldestFreesSpace(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")

		// Fill every page.
		for {
			_, ok := func() (Page, bool) {
				mgr.mu.Lock()
				defer mgr.mu.Unlock()
				return mgr.newPage(id, 8)
			}()
			if !ok {
				break
			}
		}

		mgr.RegisterCollector(id, 1, mgr.DiscardOldest)
		mgr.Collect()

		mgr.mu.Lock()
		_, ok := mgr.newPage(id, 8)
		mgr.mu.Unlock()
		if !ok {
			t.Fatal("expected New to succeed after DiscardOldest collection")
		}
	})
}

func TestInitializeRecoversFromGarbageHeaders(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, flash := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewFixedStorage[[4]byte](mgr, id)
		s.Add([4]byte{1, 2, 3, 4})

		rng := rand.New(rand.NewSource(1))
		data := flash.Range()
		for off := 0; off < testFlashSize; off += testBlockSize {
			for i := 0; i < BlockHeader; i++ {
				data[off+i] &= byte(rng.Intn(256))
			}
		}

		mgr2 := NewManager(flash, nil)
		mgr2.Initialize(0, testFlashSize, InitNone)
		mgr2.Collect()

		for off := 0; off < testFlashSize; off += testBlockSize {
			if mgr2.classifyBlock(off) != blockEmpty {
				t.Fatalf("block at %d not empty after recovery", off)
			}
		}
	})
}

// Add followed by Delete of the same key leaves nothing findable.
func TestAddDeleteRoundTrip(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewFixedStorage[[4]byte](mgr, id)
		r := s.Add([4]byte{42, 0, 0, 0})

		if !mgr.Delete(id, r.FirstWord()) {
			t.Fatal("Delete reported no match")
		}
		if mgr.FindUnorderedFirst(id, r.FirstWord()).Valid() {
			t.Fatal("record still findable after delete")
		}
	})
}

// A reboot (re-Initialize without reset) preserves the live record set.
func TestReinitializePreservesRecords(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, flash := newTestManager(t, doubleWrite)
		id := NewID("TEST")
		s := NewFixedStorage[[4]byte](mgr, id)
		s.Add([4]byte{1, 0, 0, 0})
		s.Add([4]byte{2, 0, 0, 0})

		mgr2 := NewManager(flash, nil)
		mgr2.Initialize(0, testFlashSize, InitNone)

		s2 := NewFixedStorage[[4]byte](mgr2, id)
		if _, ok := s2.NewestFirst(); !ok {
			t.Fatal("expected records to survive re-Initialize")
		}
		n := countRecords(mgr2, id, 0)
		if n != 2 {
			t.Fatalf("expected 2 surviving records, got %d", n)
		}
	})
}

// Scan/ScanAround cover every page with an id
// exactly once, in non-decreasing logical age.
func TestScanCoversEveryPageOnce(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		mgr, _ := newTestManager(t, doubleWrite)
		id := NewID("TEST")

		const n = 5
		for i := 0; i < n; i++ {
			mgr.mu.Lock()
			_, ok := mgr.newPage(id, 8)
			mgr.mu.Unlock()
			if !ok {
				t.Fatalf("newPage %d failed", i)
			}
		}

		seen := map[int]bool{}
		count := 0
		var prevSeq uint16
		for p := mgr.OldestFirst(id); p.Valid(); p = p.OldestNext() {
			if seen[p.off] {
				t.Fatalf("page at %d visited twice", p.off)
			}
			if count > 0 && ovfLT(p.Sequence(), prevSeq) {
				t.Fatalf("page sequence %d visited after newer %d", p.Sequence(), prevSeq)
			}
			prevSeq = p.Sequence()
			seen[p.off] = true
			count++
			if count > n {
				t.Fatal("Scan traversal did not terminate")
			}
		}
		if count != n {
			t.Fatalf("visited %d pages, want %d", count, n)
		}
	})
}
