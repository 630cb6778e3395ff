package nvram

import "encoding/binary"

// blockState classifies a block from its header words.
type blockState int

const (
	blockEmpty blockState = iota
	blockValid
	blockHalfInit
	blockErasable
	blockCorrupted
)

func (m *Manager) blockMagic(off int) uint32 {
	return binary.LittleEndian.Uint32(m.flash.Range()[off : off+4])
}

func (m *Manager) blockGeneration(off int) uint32 {
	return binary.LittleEndian.Uint32(m.flash.Range()[off+4 : off+8])
}

// blockAllOnes reports whether every byte in [off+from, off+BlockSize) is
// 0xFF. from is relative to the start of the block.
func (m *Manager) blockAllOnes(off, from int) bool {
	end := off + m.layout.BlockSize
	for _, b := range m.flash.Range()[off+from : end] {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func (m *Manager) classifyBlock(off int) blockState {
	magic := m.blockMagic(off)
	gen := m.blockGeneration(off)

	switch {
	case magic == uint32(Magic) && gen == 0xFFFFFFFF:
		return blockHalfInit
	case magic == uint32(Magic):
		return blockValid
	case magic == 0:
		return blockErasable
	case m.blockAllOnes(off, 0):
		return blockEmpty
	default:
		return blockCorrupted
	}
}

// formatBlock programs {magic, generation}, fused into one write when the
// flash supports double-word writes. On verify failure the partial state is
// shredded back to erasable.
func (m *Manager) formatBlock(off int, gen uint32) bool {
	var ok bool
	if m.flash.DoubleWrite() {
		ok = m.flash.WriteDouble(off, uint32(Magic), gen)
	} else {
		ok = m.flash.WriteWord(off, uint32(Magic)) && m.flash.WriteWord(off+4, gen)
	}
	if ok {
		m.logger().Debugw("formatted block", "offset", off, "generation", gen)
		return true
	}

	if m.flash.DoubleWrite() {
		m.flash.ShredDouble(off)
	} else {
		m.flash.ShredWord(off + 4)
		m.flash.ShredWord(off)
	}
	m.logger().Warnw("failed to format block", "offset", off, "generation", gen)
	return false
}

// checkPages scans every page slot in the block at off, returning the
// number of empty (allocatable) slots and whether every slot is erasable,
// with no live and no empty ones left (in which case the whole block can
// be reclaimed).
func (m *Manager) checkPages(off int) (freeCount int, allErasable bool) {
	allErasable = true
	for i := 0; i < m.layout.PagesPerBlock; i++ {
		p := off + BlockHeader + i*m.layout.PageSize
		switch m.pageID(p) {
		case IDEmpty:
			freeCount++
			allErasable = false
		case IDErasable:
			// erasable, contributes to allErasable
		default:
			allErasable = false
		}
	}
	return freeCount, allErasable
}

// shredBlockHeader unconditionally zeros the block's magic and generation
// so it classifies as erasable, half-init and corrupted blocks alike.
func (m *Manager) shredBlockHeader(off int) {
	if m.flash.DoubleWrite() {
		m.flash.ShredDouble(off)
	} else {
		m.flash.ShredWord(off + 4)
		m.flash.ShredWord(off)
	}
}

// markBlockErasable shreds the block's magic, preserving its generation in
// the trailing padding first if the flash needs double-word writes and
// there is room, so EraseBlocks can resume numbering after the erase.
func (m *Manager) markBlockErasable(off int) {
	if m.flash.DoubleWrite() && m.layout.BlockPadding >= 8 {
		padOff := off + BlockHeader + m.layout.PagesPerBlock*m.layout.PageSize
		m.flash.WriteDouble(padOff, m.blockMagic(off), m.blockGeneration(off))
		m.flash.ShredDouble(off)
	} else if m.flash.DoubleWrite() {
		m.logger().Warnw("no block padding available to preserve generation", "offset", off)
		m.flash.ShredDouble(off)
	} else {
		m.flash.ShredWord(off)
	}
	m.blocksToErase = true
}

// preservedGeneration reads back the generation number eraseBlocks should
// reuse (incremented) after erasing the block at off.
func (m *Manager) preservedGeneration(off int) uint32 {
	if m.flash.DoubleWrite() {
		if m.layout.BlockPadding < 8 {
			return 0
		}
		padOff := off + BlockHeader + m.layout.PagesPerBlock*m.layout.PageSize
		if m.blockMagic(padOff) == uint32(Magic) {
			return m.blockGeneration(padOff)
		}
		return 0
	}
	return m.blockGeneration(off)
}
