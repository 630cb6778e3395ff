package nvram

import "github.com/google/btree"

// idIndexItem is a btree.Item ordering by id, used to cache the offset of
// the lowest-addressed known page per id so repeated First(id) lookups
// skip the linear block scan once an id's neighbourhood has been seen.
type idIndexItem struct {
	id  ID
	off int
}

func (a idIndexItem) Less(than btree.Item) bool {
	return a.id < than.(idIndexItem).id
}

func newIDIndex() *btree.BTree {
	return btree.New(32)
}

func (m *Manager) indexLookup(id ID) (int, bool) {
	if m.index == nil {
		return 0, false
	}
	item := m.index.Get(idIndexItem{id: id})
	if item == nil {
		return 0, false
	}
	return item.(idIndexItem).off, true
}

// indexSet records a page at off for id, keeping the lowest offset seen so
// the cached page stays the one First's block-order scan would return.
func (m *Manager) indexSet(id ID, off int) {
	if m.index == nil {
		m.index = newIDIndex()
	}
	if cur, ok := m.indexLookup(id); ok && cur < off {
		return
	}
	m.index.ReplaceOrInsert(idIndexItem{id: id, off: off})
}

func (m *Manager) indexDelete(id ID) {
	if m.index != nil {
		m.index.Delete(idIndexItem{id: id})
	}
}

// rebuildIndex repopulates the id cache from scratch by walking every
// valid block, called once from Initialize.
func (m *Manager) rebuildIndex() {
	m.index = newIDIndex()
	for off := m.blkFirst; off != m.blkEnd; off += m.layout.BlockSize {
		if m.classifyBlock(off) != blockValid {
			continue
		}
		m.rebuildBlockFilter(off)
		for _, po := range m.pagesInBlock(off) {
			id := m.pageID(po)
			if id == IDEmpty {
				break
			}
			if id != IDErasable {
				m.indexSet(id, po)
			}
		}
	}
}

// indexedFirst is First(id)'s fast path: a cache hit that still resolves
// to a page actually carrying id is returned directly; anything else
// falls back to the full scan, which repairs the cache entry on success.
func (m *Manager) indexedFirst(id ID) Page {
	if off, ok := m.indexLookup(id); ok {
		blockOff := m.blockOfPage(off)
		if m.classifyBlock(blockOff) == blockValid && m.pageID(off) == id {
			return Page{mgr: m, off: off}
		}
		m.indexDelete(id)
	}
	return Page{}
}
