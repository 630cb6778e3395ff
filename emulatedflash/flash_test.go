package emulatedflash

import (
	"context"
	"testing"
	"time"
)

func TestWriteIsANDSemantics(t *testing.T) {
	f := New(64, 16, false)
	if !f.WriteWord(0, 0x0000FFFF) {
		t.Fatal("first write should succeed against all-ones flash")
	}
	// A second write can only clear further bits, never set one back: its
	// 1-bits over the already-cleared half read back as 0, so it does not
	// verify, while its 0-bits still land.
	if f.WriteWord(0, 0xFFFF0000) {
		t.Fatal("second write whose 1-bits cover cleared bits must fail verification")
	}
	got := f.Range()[0:4]
	want := []byte{0, 0, 0, 0}
	for i, b := range want {
		if got[i] != b {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], b)
		}
	}
}

func TestWriteFailsToSetABitBackToOne(t *testing.T) {
	f := New(64, 16, false)
	f.WriteWord(0, 0x00000000)
	if f.WriteWord(0, 0xFFFFFFFF) {
		t.Fatal("writing 1-bits over already-cleared bits must fail verification")
	}
}

func TestShredZeroesUnconditionally(t *testing.T) {
	f := New(64, 16, false)
	f.ShredWord(4)
	for _, b := range f.Range()[4:8] {
		if b != 0 {
			t.Fatalf("shredded word not all zero: %v", f.Range()[4:8])
		}
	}
}

func TestEraseRestoresAllOnes(t *testing.T) {
	f := New(64, 16, false)
	f.WriteWord(0, 0)
	f.Erase(0, 16)
	for _, b := range f.Range()[0:16] {
		if b != 0xFF {
			t.Fatalf("erased sector not all-ones: %v", f.Range()[0:16])
		}
	}
}

func TestErasePageAsyncReportsCompletion(t *testing.T) {
	f := New(64, 16, false)
	f.WriteWord(0, 0)
	done := f.ErasePageAsync(context.Background(), 0)
	if !<-done {
		t.Fatal("erase should complete without an injected interruption")
	}
	if f.Range()[0] != 0xFF {
		t.Fatal("sector not erased after ErasePageAsync completed")
	}
}

func TestErasePageAsyncHonorsInterruptCount(t *testing.T) {
	f := New(64, 16, false, WithInterruptedErases(2))
	f.WriteWord(0, 0)

	for i := 0; i < 2; i++ {
		if <-f.ErasePageAsync(context.Background(), 0) {
			t.Fatalf("erase %d should report interrupted", i)
		}
	}
	if f.Range()[0] == 0xFF {
		t.Fatal("an interrupted erase must not touch flash contents")
	}
	if !<-f.ErasePageAsync(context.Background(), 0) {
		t.Fatal("third erase should finally succeed")
	}
}

func TestErasePageAsyncRespectsContextCancellation(t *testing.T) {
	f := New(64, 16, false, WithEraseLatency(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := f.ErasePageAsync(ctx, 0)
	cancel()
	if <-done {
		t.Fatal("cancelled erase should report false, not success")
	}
}

func TestSnapshotReplaysOpLogPrefix(t *testing.T) {
	f := New(32, 16, false, WithOpLog())
	f.WriteWord(0, 1)
	f.WriteWord(4, 2)
	f.WriteWord(8, 3)

	if f.LogLen() != 3 {
		t.Fatalf("LogLen = %d, want 3", f.LogLen())
	}

	snap0 := f.Snapshot(0)
	for _, b := range snap0[:12] {
		if b != 0xFF {
			t.Fatal("Snapshot(0) should be untouched, all-ones")
		}
	}

	snap2 := f.Snapshot(2)
	if snap2[0] != 1 || snap2[4] != 2 {
		t.Fatalf("Snapshot(2) missing ops 0 and 1: %v", snap2[:8])
	}
	if snap2[8] == 3 {
		t.Fatal("Snapshot(2) should not include the third op")
	}
}

func TestNewFromBytesWrapsWithoutMutating(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = 0xFF
	}
	data[0] = 0x42
	f := NewFromBytes(data, 16, true)
	if f.Range()[0] != 0x42 {
		t.Fatal("NewFromBytes must not touch the bytes it wraps")
	}
	if !f.DoubleWrite() {
		t.Fatal("DoubleWrite flag not carried through NewFromBytes")
	}
}
