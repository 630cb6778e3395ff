package nvram

import (
	"testing"

	"github.com/outpost-embedded/nvram/emulatedflash"
)

// FuzzPowerFailRecovery drives a sequence of Add/Delete calls against a
// flash with its op-log enabled, then re-Initializes against the prefix of
// that log selected by prefixSeed (so the fuzzer varies the crash point
// across inputs): a crash at any point during any write must leave a region
// Initialize can recover from without panicking and without ever leaving
// a block corrupted once InitIgnoreCorrupted is absent. The recovered
// store must also keep accepting records, which drives the repair paths
// over whatever unfinished write the prefix ended inside.
func FuzzPowerFailRecovery(f *testing.F) {
	f.Add(uint8(3), uint8(1), false)
	f.Add(uint8(20), uint8(7), false)
	f.Add(uint8(24), uint8(11), true)
	f.Add(uint8(40), uint8(0), true)

	f.Fuzz(func(t *testing.T, ops, prefixSeed uint8, doubleWrite bool) {
		flash := emulatedflash.New(16*1024, 4*1024, doubleWrite, emulatedflash.WithOpLog())
		mgr := NewManager(flash, nil)
		if !mgr.Initialize(0, 16*1024, InitReset) {
			t.Fatal("initial reset Initialize reported a leftover corrupted block")
		}
		fixedID := NewID("FUZF")
		varID := NewID("FUZV")
		fixed := NewFixedStorage[[4]byte](mgr, fixedID)
		variable := NewVariableStorage(mgr, varID)

		var lastKey uint32
		for i := 0; i < int(ops); i++ {
			switch {
			case i%5 == 4 && lastKey != 0:
				mgr.Delete(fixedID, lastKey)
			case i%3 == 2:
				variable.Add([]byte{byte(i) + 1, 0, 0, 0, byte(i)})
			default:
				key := byte(i) + 1 // never 0, so it is never mistaken for "match any key"
				if r := fixed.Add([4]byte{key, byte(i >> 8), 0, 0}); r.Valid() {
					lastKey = r.FirstWord()
				}
			}
		}

		logLen := flash.LogLen()
		if logLen == 0 {
			return
		}
		n := int(prefixSeed) % (logLen + 1)

		snap := flash.Snapshot(n)
		flash2 := emulatedflash.NewFromBytes(snap, 4*1024, doubleWrite)
		mgr2 := NewManager(flash2, nil)
		mgr2.Initialize(0, 16*1024, InitNone)
		mgr2.Collect()

		fixed2 := NewFixedStorage[[4]byte](mgr2, fixedID)
		variable2 := NewVariableStorage(mgr2, varID)
		if r := fixed2.Add([4]byte{0x51, 1, 2, 3}); !r.Valid() {
			t.Fatalf("fixed Add failed after recovering from a %d-op prefix", n)
		}
		if r := variable2.Add([]byte{0x52, 0, 0, 0, 7, 8, 9}); !r.Valid() {
			t.Fatalf("variable Add failed after recovering from a %d-op prefix", n)
		}
		if r := mgr2.FindNewestFirst(fixedID, 0x51); !r.Valid() || r.Bytes()[1] != 1 {
			t.Fatalf("fixed record unreadable after recovering from a %d-op prefix", n)
		}
		if r := mgr2.FindNewestFirst(varID, 0x52); !r.Valid() || len(r.Bytes()) != 7 {
			t.Fatalf("variable record unreadable after recovering from a %d-op prefix", n)
		}

		mgr2.Collect()
		for off := 0; off < 16*1024; off += 4 * 1024 {
			switch mgr2.classifyBlock(off) {
			case blockValid, blockEmpty:
			default:
				t.Fatalf("block at %d left in state %v after recovering from a %d-op prefix", off, mgr2.classifyBlock(off), n)
			}
		}
	})
}
