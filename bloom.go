package nvram

import "github.com/bits-and-blooms/bloom/v3"

// DefaultBlockFilterFPR is the false-positive target for the per-block
// id filters.
const DefaultBlockFilterFPR = 0.01

// blockFilter returns (creating if necessary) the bloom filter tracking
// which ids have a valid page in the block at off.
func (m *Manager) blockFilter(off int) *bloom.BloomFilter {
	f, ok := m.blockFilters[off]
	if !ok {
		f = bloom.NewWithEstimates(uint(m.layout.PagesPerBlock), DefaultBlockFilterFPR)
		m.blockFilters[off] = f
	}
	return f
}

func idBytes(id ID) []byte {
	return []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
}

// rebuildBlockFilter scans every page currently in the block at off and
// rebuilds its bloom filter from scratch, called during Initialize and
// after NewBlock formats a fresh block.
func (m *Manager) rebuildBlockFilter(off int) {
	f := bloom.NewWithEstimates(uint(m.layout.PagesPerBlock), DefaultBlockFilterFPR)
	for _, p := range m.pagesInBlock(off) {
		id := m.pageID(p)
		if id != IDEmpty && id != IDErasable {
			f.Add(idBytes(id))
		}
	}
	m.blockFilters[off] = f
}

// noteBlockPage records that a page with the given id now lives in the
// block at off, called right after NewPage successfully formats a slot.
func (m *Manager) noteBlockPage(off int, id ID) {
	m.blockFilter(off).Add(idBytes(id))
}

// blockMayContain reports whether the block at off might hold a page with
// the given id. A false result is authoritative (no further scan of the
// block is needed); a true result still requires scanning.
func (m *Manager) blockMayContain(off int, id ID) bool {
	f, ok := m.blockFilters[off]
	if !ok {
		// no filter built yet (shouldn't normally happen once
		// Initialize has run) - fall back to scanning.
		return true
	}
	return f.Test(idBytes(id))
}
