package nvram

import (
	"testing"

	"github.com/outpost-embedded/nvram/emulatedflash"
)

// TestWearLevelsAcrossManyTurnovers exercises wear parity: across many
// add-and-collect cycles, no block's generation should grow by more than one
// ahead of the region's slowest block, since DiscardOldest always reclaims
// whichever page aged out first rather than favouring one block.
func TestWearLevelsAcrossManyTurnovers(t *testing.T) {
	forEachAlignment(t, func(t *testing.T, doubleWrite bool) {
		const (
			flashSize = 4 * 1024
			blockSize = 1024
			cycles    = 300
		)
		// A deliberately cramped layout (8 pages/block, ~1 record/page) so
		// the region turns over many times within a short loop instead of
		// just filling up once.
		flash := emulatedflash.New(flashSize, blockSize, doubleWrite)
		layout := NewLayout(FlashGeometry{SectorSize: blockSize, DoubleWrite: doubleWrite}, 8, 4)
		mgr := ManagerWithLayout(flash, layout, nil)
		if !mgr.Initialize(0, flashSize, InitReset) {
			t.Fatal("Initialize(reset) reported a leftover corrupted block")
		}
		id := NewID("WEAR")
		mgr.RegisterCollector(id, 1, mgr.DiscardOldest)

		s := NewFixedStorage[[64]byte](mgr, id)
		for i := 0; i < cycles; i++ {
			var v [64]byte
			v[0], v[1] = byte(i), byte(i>>8)
			s.Add(v)
			mgr.Collect()
		}

		minGen, maxGen := ^uint32(0), uint32(0)
		for off := 0; off < flashSize; off += blockSize {
			var gen uint32
			switch mgr.classifyBlock(off) {
			case blockValid:
				gen = mgr.blockGeneration(off)
			case blockErasable:
				// an erasable block's header is shredded on double-word
				// flash; its generation lives on in the padding
				gen = mgr.preservedGeneration(off)
			default:
				continue
			}
			if gen < minGen {
				minGen = gen
			}
			if gen > maxGen {
				maxGen = gen
			}
		}
		if maxGen-minGen > 1 {
			t.Fatalf("block generations spread too wide after %d cycles: min=%d max=%d", cycles, minGen, maxGen)
		}
	})
}
