package nvram

// ovfLT compares two 16-bit sequence numbers under wraparound: a < b.
func ovfLT(a, b uint16) bool { return int16(a-b) < 0 }

// ovfGT compares two 16-bit sequence numbers under wraparound: a > b.
func ovfGT(a, b uint16) bool { return int16(a-b) > 0 }

// scanPages walks every page with the given id (via Next), classifying
// each one as strictly-before or at-or-after the anchor page returned by
// First(id) under 16-bit wraparound: the first page encountered defines
// "now", so the comparison stays total even after the sequence counter
// wraps.
//
// It returns the set split at that boundary, each ordered by sequence
// (ties broken by address), so callers can pick the extremes or the
// neighbours of a given sequence number.
type pageSeq struct {
	p   Page
	seq uint16
}

func (m *Manager) scanPages(id ID) (before, atOrAfter []pageSeq) {
	anchor := m.First(id)
	if !anchor.Valid() {
		return nil, nil
	}
	base := anchor.Sequence()

	add := func(p Page) {
		seq := p.Sequence()
		if ovfLT(seq, base) {
			before = append(before, pageSeq{p, seq})
		} else {
			atOrAfter = append(atOrAfter, pageSeq{p, seq})
		}
	}
	add(anchor)
	for p := anchor.Next(); p.Valid(); p = p.Next() {
		add(p)
	}

	sortPageSeqs(before)
	sortPageSeqs(atOrAfter)
	return before, atOrAfter
}

func sortPageSeqs(s []pageSeq) {
	// insertion sort; page counts per id are bounded by region size /
	// page size and stay small
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && less(s[j], s[j-1]) {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}

func less(a, b pageSeq) bool {
	if a.seq != b.seq {
		return ovfLT(a.seq, b.seq)
	}
	return a.p.off < b.p.off
}

// Scan returns the (newest, oldest) page with the given id.
func (m *Manager) Scan(id ID) (newest, oldest Page) {
	before, atOrAfter := m.scanPages(id)
	if len(before) == 0 && len(atOrAfter) == 0 {
		return Page{}, Page{}
	}
	if len(before) > 0 {
		oldest = before[0].p
	} else {
		oldest = atOrAfter[0].p
	}
	if len(atOrAfter) > 0 {
		newest = atOrAfter[len(atOrAfter)-1].p
	} else {
		newest = before[len(before)-1].p
	}
	return newest, oldest
}

// ScanAround returns the (older, newer) page relative to p, among pages
// sharing p's id, using the same base-anchored classification as Scan.
func (m *Manager) ScanAround(p Page) (older, newer Page) {
	id := p.ID()
	before, atOrAfter := m.scanPages(id)

	// find p's rank within its half and return its immediate neighbours
	for i, ps := range before {
		if ps.p.off == p.off {
			if i+1 < len(before) {
				newer = before[i+1].p
			} else if len(atOrAfter) > 0 {
				newer = atOrAfter[0].p
			}
			if i > 0 {
				older = before[i-1].p
			}
			return older, newer
		}
	}
	for i, ps := range atOrAfter {
		if ps.p.off == p.off {
			if i+1 < len(atOrAfter) {
				newer = atOrAfter[i+1].p
			}
			if i > 0 {
				older = atOrAfter[i-1].p
			} else if len(before) > 0 {
				older = before[len(before)-1].p
			}
			return older, newer
		}
	}
	return Page{}, Page{}
}

// NewestFirst returns the newest page with the given id.
func (m *Manager) NewestFirst(id ID) Page { n, _ := m.Scan(id); return n }

// OldestFirst returns the oldest page with the given id.
func (m *Manager) OldestFirst(id ID) Page { _, o := m.Scan(id); return o }

// NewestNext returns the next older page with the same id as p.
func (p Page) NewestNext() Page { older, _ := p.mgr.ScanAround(p); return older }

// OldestNext returns the next newer page with the same id as p.
func (p Page) OldestNext() Page { _, newer := p.mgr.ScanAround(p); return newer }
