package nvram

import "encoding/binary"

// pageEnd returns the offset one past the last payload byte of the page
// at off.
func (m *Manager) pageEnd(off int) int {
	return off + PageHeader + m.layout.PagePayload
}

// forwardFromStart returns the offset of the first record slot on a page
// (the first fixed record, or the first variable record's data start, just
// after the 4-byte length word).
func (m *Manager) forwardFromStart(p Page) int {
	if p.RecordSize() > 0 {
		return p.off + PageHeader
	}
	return p.off + PageHeader + 4
}

// recordAfter returns the offset of the record slot following rec on the
// same page (fixed: stride by recordSize; variable: stride past the
// record's declared length plus its length word, aligned to the write
// alignment). Zero and all-ones length words are 4-byte skip tokens, so
// the walk recovers record boundaries even across shredded reservations
// and interrupted writes.
func (m *Manager) recordAfter(p Page, rec int) int {
	if p.RecordSize() > 0 {
		return rec + int(p.RecordSize())
	}
	length := binary.LittleEndian.Uint32(m.flash.Range()[rec-4 : rec])
	if length == 0 || length == 0xFFFFFFFF {
		return rec + 4
	}
	return rec + m.layout.RequiredAligned(int(length)+4)
}

// scanForwardInPage scans the page p starting just after the record slot
// at `from` (or at the beginning of the page when from is -1) looking for
// the first record matching firstWord (0 matches any non-tombstoned
// record).
func (m *Manager) scanForwardInPage(p Page, from int, firstWord uint32) Record {
	data := m.flash.Range()
	pe := m.pageEnd(p.off)

	rec := from
	if rec < 0 {
		rec = m.forwardFromStart(p)
	} else {
		rec = m.recordAfter(p, rec)
	}

	if p.RecordSize() > 0 {
		recordSize := int(p.RecordSize())
		// all-ones slots are skipped rather than treated as the end:
		// an interrupted write can leave an unfinished slot in front of
		// records committed after it was repaired.
		for ; rec+recordSize <= pe; rec += recordSize {
			first := recordFirstWord(data, rec)
			if first == 0 || first == 0xFFFFFFFF {
				continue
			}
			if firstWord == 0 || first == firstWord {
				return Record{mgr: m, off: rec, length: recordSize}
			}
		}
		return Record{}
	}

	for rec < pe {
		length := binary.LittleEndian.Uint32(data[rec-4 : rec])
		if length == 0 || length == 0xFFFFFFFF {
			rec += 4
			continue
		}
		if int(length) > pe-rec {
			// implausible length, nothing beyond it can be trusted
			break
		}
		first := recordFirstWord(data, rec)
		if first != 0 && (firstWord == 0 || first == firstWord) {
			return Record{mgr: m, off: rec, length: int(length)}
		}
		rec = m.recordAfter(p, rec)
	}
	return Record{}
}

// scanNewestInPage scans the whole page (or up to, but not including,
// `stop`) and returns the *last* match, used by the newest-first Find
// family.
func (m *Manager) scanNewestInPage(p Page, stop int, firstWord uint32) Record {
	data := m.flash.Range()
	pe := m.pageEnd(p.off)
	var found Record

	if p.RecordSize() > 0 {
		recordSize := int(p.RecordSize())
		for rec := p.off + PageHeader; rec+recordSize <= pe && rec != stop; rec += recordSize {
			first := recordFirstWord(data, rec)
			if first == 0 || first == 0xFFFFFFFF {
				continue
			}
			if firstWord == 0 || first == firstWord {
				found = Record{mgr: m, off: rec, length: recordSize}
			}
		}
		return found
	}

	for rec := p.off + PageHeader + 4; rec < pe && rec != stop; {
		length := binary.LittleEndian.Uint32(data[rec-4 : rec])
		if length == 0 || length == 0xFFFFFFFF {
			rec += 4
			continue
		}
		if int(length) > pe-rec {
			break
		}
		first := recordFirstWord(data, rec)
		if first != 0 && (firstWord == 0 || first == firstWord) {
			found = Record{mgr: m, off: rec, length: int(length)}
		}
		rec = m.recordAfter(p, rec)
	}
	return found
}

// findForwardNext walks pages via nextPage, returning the first match
// starting strictly after `afterRec` (-1 to start at the first page's
// beginning). Used for unordered and oldest-to-newest traversal.
func (m *Manager) findForwardNext(p Page, afterRec int, firstWord uint32, nextPage func(Page) Page) Record {
	for p.Valid() {
		if r := m.scanForwardInPage(p, afterRec, firstWord); r.Valid() {
			return r
		}
		afterRec = -1
		p = nextPage(p)
	}
	return Record{}
}

// findNewestNext walks pages newest-to-oldest via nextPage, returning the
// newest match found, stopping the search on the starting page at `stop`.
func (m *Manager) findNewestNext(p Page, stop int, firstWord uint32, nextPage func(Page) Page) Record {
	for p.Valid() {
		if r := m.scanNewestInPage(p, stop, firstWord); r.Valid() {
			return r
		}
		stop = -1
		p = nextPage(p)
	}
	return Record{}
}

// FindUnorderedFirst returns the first record on a page with the given id,
// in no particular order. firstWord == 0 matches any record.
func (m *Manager) FindUnorderedFirst(id ID, firstWord uint32) Record {
	p := m.First(id)
	if !p.Valid() {
		return Record{}
	}
	return m.findForwardNext(p, -1, firstWord, Page.Next)
}

// FindUnorderedNext continues an unordered search after rec.
func (m *Manager) FindUnorderedNext(rec Record, firstWord uint32) Record {
	if !rec.Valid() {
		return Record{}
	}
	return m.findForwardNext(rec.page(), rec.off, firstWord, Page.Next)
}

// FindNewestFirst returns the newest matching record for id.
func (m *Manager) FindNewestFirst(id ID, firstWord uint32) Record {
	p := m.NewestFirst(id)
	if !p.Valid() {
		return Record{}
	}
	return m.findNewestNext(p, -1, firstWord, Page.NewestNext)
}

// FindNewestNext returns the next older matching record, stopping at rec.
func (m *Manager) FindNewestNext(rec Record, firstWord uint32) Record {
	if !rec.Valid() {
		return Record{}
	}
	return m.findNewestNext(rec.page(), rec.off, firstWord, Page.NewestNext)
}

// FindOldestFirst returns the oldest matching record for id.
func (m *Manager) FindOldestFirst(id ID, firstWord uint32) Record {
	p := m.OldestFirst(id)
	if !p.Valid() {
		return Record{}
	}
	return m.findForwardNext(p, -1, firstWord, Page.OldestNext)
}

// FindOldestNext returns the next newer matching record after rec.
func (m *Manager) FindOldestNext(rec Record, firstWord uint32) Record {
	if !rec.Valid() {
		return Record{}
	}
	return m.findForwardNext(rec.page(), rec.off, firstWord, Page.OldestNext)
}

// FirstRecord returns the first valid record on a single page, with no
// page chaining.
func (m *Manager) FirstRecord(p Page) Record {
	if !p.Valid() {
		return Record{}
	}
	return m.scanForwardInPage(p, -1, 0)
}

// LastRecord returns the last valid record on a single page, with no page
// chaining.
func (m *Manager) LastRecord(p Page) Record {
	if !p.Valid() {
		return Record{}
	}
	return m.scanNewestInPage(p, -1, 0)
}
