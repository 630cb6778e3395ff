package nvram

import (
	"bytes"
	"encoding/binary"
)

// allOnesRange reports whether data[off:off+length] is entirely 0xFF
// (unwritten flash).
func allOnesRange(data []byte, off, length int) bool {
	for _, b := range data[off : off+length] {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func allOnesDouble(data []byte, off int) bool { return allOnesRange(data, off, 8) }

// findFree returns the offset of the first free record slot on p (the
// offset a caller would pass to writeImpl), or -1 if the page is full.
func (m *Manager) findFree(p Page) int {
	data := m.flash.Range()
	pe := m.pageEnd(p.off)

	if p.RecordSize() > 0 {
		recordSize := int(p.RecordSize())
		for rec := p.off + PageHeader; rec+recordSize <= pe; rec += recordSize {
			if recordFirstWord(data, rec) == 0xFFFFFFFF {
				return rec
			}
		}
		return -1
	}

	for rec := p.off + PageHeader + 4; rec < pe; {
		length := binary.LittleEndian.Uint32(data[rec-4 : rec])
		if length == 0xFFFFFFFF {
			return rec
		}
		rec = m.recordAfter(p, rec)
	}
	return -1
}

func (m *Manager) shredWordOrDouble(off int) {
	if m.flash.DoubleWrite() {
		m.flash.ShredDouble(off)
	} else {
		m.flash.ShredWord(off)
	}
}

// pageSuitable reports whether p can host a new record of the given
// format and length starting at free.
func (m *Manager) pageSuitable(p Page, free int, isVar bool, length int) bool {
	if free < 0 {
		return false
	}
	pe := m.pageEnd(p.off)
	if isVar {
		if p.RecordSize() != 0 {
			return false
		}
		// full on-flash footprint including the length word, the same
		// formula writeImpl and moveRecords size against
		return free-4+m.layout.RequiredAligned(length+4) <= pe
	}
	if p.RecordSize() == 0 {
		return false
	}
	if m.layout.RequiredAligned(length) > int(p.RecordSize()) {
		return false
	}
	return free+int(p.RecordSize()) <= pe
}

// shredRecordAt invalidates the record slot at rec on page p. Fixed
// records are shredded in one stroke (word or double-word); variable
// records are shredded back-to-front in double-word strokes when the
// flash requires it, so that a crash mid-shred never leaves a slot that
// looks like a valid shorter record.
func (m *Manager) shredRecordAt(p Page, rec int) {
	if p.RecordSize() > 0 {
		m.shredWordOrDouble(rec)
		return
	}

	if !m.flash.DoubleWrite() {
		m.flash.ShredWord(rec)
		return
	}

	data := m.flash.Range()
	length := binary.LittleEndian.Uint32(data[rec-4 : rec])
	start := rec - 4
	pe := m.pageEnd(p.off)
	end := start + m.layout.RequiredAligned(int(length)+4)
	if length == 0 || length == 0xFFFFFFFF || end > pe || end <= start {
		end = pe
	}
	for s := end - 8; s >= start; s -= 8 {
		m.flash.ShredDouble(s)
	}
}

func (m *Manager) shredRecord(r Record) {
	if !r.Valid() {
		return
	}
	m.shredRecordAt(r.page(), r.off)
}

// writeImpl programs a record of the given format starting no earlier
// than free on page p, repairing around any interrupted prior write it
// finds in its way, until it either succeeds or runs out of room on the
// page (in which case the caller must place the record on a new page).
func (m *Manager) writeImpl(p Page, free int, firstWord uint32, rest []byte, length int, isVar bool) Record {
	data := m.flash.Range()
	pe := m.pageEnd(p.off)
	double := m.flash.DoubleWrite()

	for {
		if isVar {
			if !double {
				for {
					if free+m.layout.RequiredAligned(length) > pe {
						return Record{}
					}
					if m.flash.WriteWord(free-4, uint32(length)) {
						break
					}
					m.flash.ShredWord(free - 4)
					free += 4
				}
				ok := length <= 4 || m.flash.Write(free+4, rest)
				if ok && m.flash.WriteWord(free, firstWord) {
					return Record{mgr: m, off: free, length: length}
				}
				m.shredRecordAt(p, free)
				free = m.recordAfter(p, free)
				continue
			}

			end := free - 4 + m.layout.RequiredAligned(length+4)
			if end > pe {
				return Record{}
			}
			// the garbage scan below covers at most
			// RequiredAligned(length+4)+8 bytes from the length word,
			// which bounds this repair loop
			if end < pe {
				end += 8
			}
			for end > free && allOnesDouble(data, end-8) {
				end -= 8
			}
			if end > free {
				newFree := end + 4
				for end > free {
					m.flash.ShredDouble(end - 8)
					end -= 8
				}
				free = newFree
				continue
			}
			ok := length <= 4 || m.flash.Write(free+4, rest)
			if ok && m.flash.WriteDouble(free-4, uint32(length), firstWord) {
				return Record{mgr: m, off: free, length: length}
			}
			continue
		}

		recordSize := int(p.RecordSize())
		if free+recordSize > pe {
			return Record{}
		}
		if !double {
			ok := length <= 4 || m.flash.Write(free+4, rest)
			if ok && m.flash.WriteWord(free, firstWord) {
				return Record{mgr: m, off: free, length: recordSize}
			}
			m.shredRecordAt(p, free)
			free += recordSize
			continue
		}

		if !allOnesRange(data, free, m.layout.RequiredAligned(length)) {
			// unfinished prior write; skip over it without touching
			// anything but the header doubleword
			m.flash.ShredDouble(free)
			free += recordSize
			continue
		}
		// the second word rides along in the fused header write; records
		// shorter than 8 bytes leave its tail bits unprogrammed
		w1b := [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
		copy(w1b[:], rest)
		w1 := binary.LittleEndian.Uint32(w1b[:])
		var payload []byte
		if len(rest) > 4 {
			payload = rest[4:]
		}
		ok := len(payload) == 0 || m.flash.Write(free+8, payload)
		if ok && m.flash.WriteDouble(free, firstWord, w1) {
			return Record{mgr: m, off: free, length: recordSize}
		}
		m.flash.ShredDouble(free)
		free += recordSize
	}
}

// addImpl appends a new record for id, allocating a fresh page when the
// newest existing page has no suitable room.
func (m *Manager) addImpl(id ID, firstWord uint32, rest []byte, length int, isVar, noNotify bool) Record {
	required := m.layout.RequiredAligned(length)
	p := m.NewestFirst(id)
	free := -1
	if p.Valid() {
		free = m.findFree(p)
	}

	for {
		if !p.Valid() || !m.pageSuitable(p, free, isVar, length) {
			recordSize := 0
			if !isVar {
				recordSize = required
			}
			newP, ok := m.newPage(id, uint16(recordSize))
			if !ok {
				return Record{}
			}
			p = newP
			free = m.forwardFromStart(p)
		}

		rec := m.writeImpl(p, free, firstWord, rest, length, isVar)
		if rec.Valid() {
			if !noNotify {
				m.notify(id)
			}
			return rec
		}
		p = Page{}
		free = -1
	}
}

// compareAge returns <0 if a is older than b, >0 if newer, 0 if they are
// the same record. Records on different pages compare by page sequence
// (wraparound-aware); records on the same page compare by offset.
func (m *Manager) compareAge(a, b Record) int {
	pa, pb := a.page(), b.page()
	if pa.off != pb.off {
		if ovfLT(pa.Sequence(), pb.Sequence()) {
			return -1
		}
		if ovfGT(pa.Sequence(), pb.Sequence()) {
			return 1
		}
		return 0
	}
	return a.off - b.off
}

func (m *Manager) sameContent(rec Record, rest []byte, length int, isVar bool) bool {
	lengthOK := rec.length == length || (!isVar && rec.length > length)
	if !lengthOK {
		return false
	}
	if length <= 4 {
		return true
	}
	existing := rec.Bytes()[4:length]
	return bytes.Equal(existing, rest[:length-4])
}

// replaceImpl adds a new record for (id, firstWord), removing any prior
// records sharing that key; duplicate writes of identical content are
// collapsed into a no-op against the newest surviving record.
func (m *Manager) replaceImpl(id ID, firstWord uint32, rest []byte, length int, isVar bool) Record {
	rec := m.FindUnorderedFirst(id, firstWord)
	if !rec.Valid() {
		return m.addImpl(id, firstWord, rest, length, isVar, false)
	}

	for {
		next := m.FindUnorderedNext(rec, firstWord)
		if !next.Valid() {
			break
		}
		if m.compareAge(rec, next) < 0 {
			m.shredRecord(rec)
			rec = next
		} else {
			m.shredRecord(next)
		}
	}

	if m.sameContent(rec, rest, length, isVar) {
		return rec
	}

	res := m.addImpl(id, firstWord, rest, length, isVar, true)
	if res.Valid() {
		m.shredRecord(rec)
	}
	m.notify(id)
	return res
}

// deleteImpl shreds every record for (id, firstWord). firstWord == 0
// deletes every record on every page with id.
func (m *Manager) deleteImpl(id ID, firstWord uint32) bool {
	rec := m.FindUnorderedFirst(id, firstWord)
	if !rec.Valid() {
		return false
	}
	for rec.Valid() {
		next := m.FindUnorderedNext(rec, firstWord)
		m.shredRecord(rec)
		rec = next
	}
	m.notify(id)
	return true
}

func (m *Manager) nextRecordOnPage(p Page, rec Record) Record {
	return m.scanForwardInPage(p, rec.off, 0)
}

// moveRecords relocates up to limit bytes worth of records from src to
// dest, used by the Relocate collector strategy. It first simulates the
// move to confirm dest has room for everything src holds (so a partial
// move never happens), then performs it.
func (m *Manager) moveRecords(src, dest Page, limit int) bool {
	free := m.findFree(dest)
	if free < 0 {
		return false
	}
	pe := m.pageEnd(dest.off)
	limitEnd := pe
	if limit > 0 && free+limit < limitEnd {
		limitEnd = free + limit
	}

	testFree := free
	for rec := m.FirstRecord(src); rec.Valid(); rec = m.nextRecordOnPage(src, rec) {
		if dest.RecordSize() > 0 {
			if rec.length > int(dest.RecordSize()) || testFree+int(dest.RecordSize()) > limitEnd {
				return false
			}
			testFree += int(dest.RecordSize())
		} else {
			required := m.layout.RequiredAligned(rec.length+4)
			if testFree-4+required > limitEnd {
				return false
			}
			testFree += required
		}
	}

	moved := 0
	success := true
	isVar := dest.RecordSize() == 0
	for rec := m.FirstRecord(src); rec.Valid(); rec = m.nextRecordOnPage(src, rec) {
		var rest []byte
		if rec.length > 4 {
			rest = rec.Bytes()[4:rec.length]
		}
		written := m.writeImpl(dest, free, rec.FirstWord(), rest, rec.length, isVar)
		if !written.Valid() {
			success = false
			break
		}
		m.shredRecord(rec)
		moved++
		free = m.recordAfter(dest, written.off)
	}
	if moved > 0 {
		m.logger().Debugw("moved records",
			"count", moved, "id", src.ID().String(),
			"from", src.off, "to", dest.off)
		m.notify(src.ID())
	}
	return success
}
