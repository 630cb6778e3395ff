package nvram

import "encoding/binary"

// Record is a handle to a stored record: the span of bytes starting at its
// first word (the key) through the end of its payload. The zero Record is
// invalid and doubles as the "no record" result.
type Record struct {
	mgr    *Manager
	off    int
	length int
}

// Valid reports whether r refers to an actual record.
func (r Record) Valid() bool { return r.mgr != nil && r.length > 0 }

// Bytes returns the record's payload, including its first word.
func (r Record) Bytes() []byte {
	if !r.Valid() {
		return nil
	}
	return r.mgr.flash.Range()[r.off : r.off+r.length]
}

// FirstWord returns the record's key (its first 32-bit word).
func (r Record) FirstWord() uint32 {
	if !r.Valid() {
		return 0
	}
	return binary.LittleEndian.Uint32(r.mgr.flash.Range()[r.off : r.off+4])
}

// page returns the Page this record lives on.
func (r Record) page() Page {
	return Page{mgr: r.mgr, off: r.mgr.pageOffsetOf(r.off)}
}

func (m *Manager) pageOffsetOf(recOff int) int {
	blockOff := m.blockOfPage(recOff)
	rel := recOff - blockOff - BlockHeader
	pageIdx := rel / m.layout.PageSize
	return blockOff + BlockHeader + pageIdx*m.layout.PageSize
}

func recordFirstWord(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off : off+4])
}
