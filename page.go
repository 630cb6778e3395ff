package nvram

import "encoding/binary"

// Page is a handle to a page living at a fixed offset inside some block of
// the Manager's flash region. It is a thin (offset, generation-stable)
// reference, not a copy of the header — reads always go through the
// current flash contents.
type Page struct {
	mgr *Manager
	off int
}

// Valid reports whether p refers to an existing page; the zero Page is
// invalid.
func (p Page) Valid() bool { return p.mgr != nil }

func (m *Manager) pageID(off int) ID {
	return ID(binary.LittleEndian.Uint32(m.flash.Range()[off : off+4]))
}

func (m *Manager) pageSequence(off int) uint16 {
	return binary.LittleEndian.Uint16(m.flash.Range()[off+4 : off+6])
}

func (m *Manager) pageRecordSize(off int) uint16 {
	return binary.LittleEndian.Uint16(m.flash.Range()[off+6 : off+8])
}

func (m *Manager) pageDataOffset(off int) int { return off + PageHeader }

// ID returns the page's id.
func (p Page) ID() ID { return p.mgr.pageID(p.off) }

// Sequence returns the page's 16-bit sequence number.
func (p Page) Sequence() uint16 { return p.mgr.pageSequence(p.off) }

// RecordSize returns the fixed record width, or 0 for a variable-record
// page.
func (p Page) RecordSize() uint16 { return p.mgr.pageRecordSize(p.off) }

// blockOffset returns the offset of the block containing p.
func (p Page) blockOffset() int {
	return p.mgr.blockOfPage(p.off)
}

func (m *Manager) blockOfPage(pageOff int) int {
	rel := pageOff - m.blkStart
	blockIdx := rel / m.layout.BlockSize
	return m.blkStart + blockIdx*m.layout.BlockSize
}

// IsEmptyPage reports whether the payload section of the page is entirely
// unwritten (all-ones header and payload).
func (p Page) IsEmptyPage() bool {
	data := p.mgr.flash.Range()[p.off : p.off+p.mgr.layout.PageSize]
	for _, b := range data {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// pagesInBlock iterates the page slots of the block at blockOff.
func (m *Manager) pagesInBlock(blockOff int) []int {
	offs := make([]int, m.layout.PagesPerBlock)
	for i := range offs {
		offs[i] = blockOff + BlockHeader + i*m.layout.PageSize
	}
	return offs
}

// First returns any valid page with the given id (leftmost block, first
// matching slot), or an invalid Page if none exists.
func (m *Manager) First(id ID) Page {
	if p := m.indexedFirst(id); p.Valid() {
		return p
	}
	for off := m.blkFirst; off != m.blkEnd; off += m.layout.BlockSize {
		if m.classifyBlock(off) != blockValid {
			continue
		}
		if !m.blockMayContain(off, id) {
			continue
		}
		for _, po := range m.pagesInBlock(off) {
			pid := m.pageID(po)
			if pid == IDEmpty {
				break
			}
			if pid == id {
				m.indexSet(id, po)
				return Page{mgr: m, off: po}
			}
		}
	}
	return Page{}
}

// Next returns another valid page with the same id, in no particular
// order, continuing after p. It is the cheap enumeration primitive
// behind EraseAll and Pages, skipping the age bookkeeping Scan does.
func (p Page) Next() Page {
	m := p.mgr
	id := p.ID()
	blockOff := p.blockOffset()
	startAfter := p.off + m.layout.PageSize

	for off := blockOff; off != m.blkEnd; off += m.layout.BlockSize {
		if off != blockOff && m.classifyBlock(off) != blockValid {
			continue
		}
		from := off
		if off == blockOff {
			from = startAfter
		}
		for _, po := range m.pagesInBlock(off) {
			if po < from {
				continue
			}
			pid := m.pageID(po)
			if pid == IDEmpty {
				break
			}
			if pid == id {
				return Page{mgr: m, off: po}
			}
		}
	}
	return Page{}
}
