package nvram

import (
	"context"
	"runtime"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/btree"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InitFlags controls Initialize's scan behaviour.
type InitFlags int

const (
	InitNone InitFlags = 0
	// InitReset synchronously erases the whole region before scanning.
	InitReset InitFlags = 1 << iota
	// InitIgnoreCorrupted leaves corrupted blocks untouched (counted,
	// not shredded); without it, Initialize shreds them to erasable.
	InitIgnoreCorrupted
)

// collectorEntry is one registered reclamation strategy, kept in ascending
// level order.
type collectorEntry struct {
	id    ID
	level int
	fn    func(ID) Page
}

// notifierEntry is one registered change listener.
type notifierEntry struct {
	id ID
	fn func(ID)
}

// Manager owns a region of Flash: the block/page allocation state, the
// free-page counter, the collector/notifier registries, and the
// background collector goroutine. The zero Manager is not usable; build
// one with NewManager.
type Manager struct {
	mu sync.Mutex

	flash     Flash
	layout    Layout
	log       *zap.Logger
	sessionID uuid.UUID

	blkStart int // region start, block-aligned
	blkEnd   int // region end, block-aligned (exclusive)
	blkFirst int // lowest-addressed block currently holding state

	pagesAvailable int
	blocksToErase  bool
	collecting     bool

	index        *btree.BTree
	blockFilters map[int]*bloom.BloomFilter

	collectors []collectorEntry
	notifiers  []notifierEntry

	cond *sync.Cond // signalled on pagesAvailable/blocksToErase/collecting changes
}

// NewManager constructs a Manager over the given Flash, using a Layout
// derived from flash's geometry (or override it by calling NewLayout
// yourself and using ManagerWithLayout). log may be nil, in which case a
// no-op logger is used.
func NewManager(flash Flash, log *zap.Logger) *Manager {
	layout := NewLayout(FlashGeometry{
		SectorSize:  flash.SectorSize(),
		DoubleWrite: flash.DoubleWrite(),
	}, 0, 0)
	return ManagerWithLayout(flash, layout, log)
}

// ManagerWithLayout is like NewManager but with an explicit, possibly
// overridden Layout (e.g. a non-default PagesPerBlock/PagesKeptFree).
func ManagerWithLayout(flash Flash, layout Layout, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		flash:        flash,
		layout:       layout,
		log:          log,
		sessionID:    uuid.New(),
		blockFilters: make(map[int]*bloom.BloomFilter),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Manager) logger() *zap.SugaredLogger {
	return m.log.Sugar().With("session", m.sessionID.String())
}

// Layout returns the derived layout constants in effect.
func (m *Manager) Layout() Layout { return m.layout }

// PagesAvailable returns the current count of unallocated pages across
// every empty and valid block.
func (m *Manager) PagesAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pagesAvailable
}

// Blocks returns the total number of blocks in the managed region.
func (m *Manager) Blocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (m.blkEnd - m.blkStart) / m.layout.BlockSize
}

// UsedBlocks returns the number of blocks currently classified valid.
func (m *Manager) UsedBlocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for off := m.blkStart; off != m.blkEnd; off += m.layout.BlockSize {
		if m.classifyBlock(off) == blockValid {
			n++
		}
	}
	return n
}

// InitializeDefault initializes over the whole usable flash range, minus
// the reserved areas configured on the Layout.
func (m *Manager) InitializeDefault(flags InitFlags) bool {
	end := len(m.flash.Range()) - m.layout.ReservedEnd
	return m.Initialize(m.layout.ReservedStart, end, flags)
}

// Initialize aligns [start, end) inward to block boundaries, optionally
// erases it (InitReset), then scans every block high-to-low classifying
// each one and repairing half-formatted or corrupted blocks. It returns
// false if any corrupted block was left untouched because
// InitIgnoreCorrupted was set.
func (m *Manager) Initialize(start, end int, flags InitFlags) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	blockSize := m.layout.BlockSize
	m.blkStart = start + (blockSize-start%blockSize)%blockSize
	m.blkEnd = end - (end % blockSize)

	if flags&InitReset != 0 {
		m.flash.Erase(m.blkStart, m.blkEnd-m.blkStart)
	}

	m.pagesAvailable = 0
	m.blocksToErase = false
	m.blkFirst = m.blkEnd
	clean := true

	// Scan from high to low address: every valid block we see sets
	// blkFirst to its offset, so blkFirst ends up at the lowest one.
	for off := m.blkEnd - blockSize; off >= m.blkStart; off -= blockSize {
		switch m.classifyBlock(off) {
		case blockValid:
			m.blkFirst = off
			free, allErasable := m.checkPages(off)
			if allErasable {
				m.markBlockErasable(off)
			} else {
				m.pagesAvailable += free
			}
		case blockHalfInit:
			m.blkFirst = off
			if m.blockAllOnes(off, BlockHeader) {
				if m.formatBlock(off, 1) {
					m.pagesAvailable += m.layout.PagesPerBlock
				} else {
					m.blocksToErase = true
				}
			} else {
				m.shredBlockHeader(off)
				m.blocksToErase = true
			}
		case blockEmpty:
			m.pagesAvailable += m.layout.PagesPerBlock
		case blockErasable:
			m.blocksToErase = true
		default: // blockCorrupted
			if flags&InitIgnoreCorrupted != 0 {
				clean = false
			} else {
				m.logger().Warnw("shredding corrupted block", "offset", off)
				m.shredBlockHeader(off)
				m.blocksToErase = true
			}
		}
	}

	m.rebuildIndex()

	if m.blocksToErase || m.pagesAvailable < m.layout.PagesKeptFree {
		m.runCollectorLocked()
	}

	m.logger().Infow("initialized",
		"blkFirst", m.blkFirst, "pagesAvailable", m.pagesAvailable,
		"blocksToErase", m.blocksToErase, "clean", clean)
	return clean
}

// newBlock scans from high to low address for an empty block and formats
// it, advancing blkFirst downward. Returns (offset, true) on success.
// Must be called with m.mu held.
func (m *Manager) newBlock(gen uint32) (int, bool) {
	for off := m.blkEnd - m.layout.BlockSize; off >= m.blkStart; off -= m.layout.BlockSize {
		if m.classifyBlock(off) != blockEmpty {
			continue
		}
		if !m.formatBlock(off, gen) {
			continue
		}
		if off < m.blkFirst {
			m.blkFirst = off
		}
		m.rebuildBlockFilter(off)
		return off, true
	}
	return 0, false
}

// newPage allocates a fresh page for id with the given recordSize (0 for
// variable). Must be called with m.mu held (addImpl holds it across the
// whole Add).
func (m *Manager) newPage(id ID, recordSize uint16) (Page, bool) {
	seq := m.nextSequence(id)

	for {
		off, ok := m.findFreePageSlot()
		if !ok {
			blockOff, ok := m.newBlock(1)
			if !ok {
				return Page{}, false
			}
			off = blockOff + BlockHeader
		}

		if m.formatPageSlot(off, id, seq, recordSize) {
			m.pagesAvailable--
			m.indexSet(id, off)
			m.noteBlockPage(m.blockOfPage(off), id)
			// always schedule the collector after allocating a page;
			// it exits immediately while the reserve holds
			m.runCollectorLocked()
			return Page{mgr: m, off: off}, true
		}
		// verify failure already shredded the slot (formatPageSlot);
		// keep scanning for another free slot.
	}
}

// nextSequence returns (highest sequence seen for id)+1 under
// wraparound, or 1 if id has no prior page.
func (m *Manager) nextSequence(id ID) uint16 {
	newest, _ := m.Scan(id)
	if !newest.Valid() {
		return 1
	}
	return newest.Sequence() + 1
}

// findFreePageSlot scans every valid block from blkFirst for the first
// fully empty page slot. A slot whose id is still all-ones but whose
// body is not (an interrupted allocation) is shredded on the way past,
// keeping page enumeration's "stop at the first empty slot" rule sound.
func (m *Manager) findFreePageSlot() (int, bool) {
	for off := m.blkFirst; off != m.blkEnd; off += m.layout.BlockSize {
		if m.classifyBlock(off) != blockValid {
			continue
		}
		for _, po := range m.pagesInBlock(off) {
			if m.pageID(po) != IDEmpty {
				continue
			}
			if (Page{mgr: m, off: po}).IsEmptyPage() {
				return po, true
			}
			m.logger().Warnw("shredding corrupted page slot", "offset", po)
			m.shredWordOrDouble(po)
		}
	}
	return 0, false
}

// formatPageSlot programs {sequence, recordSize} then {id}, fused on
// double-word flash. The id goes last so a crash in between leaves an
// unallocated-looking slot, never a half-described page. On verify
// failure the slot is shredded to erasable and false is returned so the
// caller moves on to another slot.
func (m *Manager) formatPageSlot(off int, id ID, seq, recordSize uint16) bool {
	header := uint32(seq) | uint32(recordSize)<<16
	var ok bool
	if m.flash.DoubleWrite() {
		ok = m.flash.WriteDouble(off, uint32(id), header)
	} else {
		ok = m.flash.WriteWord(off+4, header) && m.flash.WriteWord(off, uint32(id))
	}
	if ok {
		return true
	}
	m.shredWordOrDouble(off)
	return false
}

// EraseBlock shreds the block's header to erasable, preserving its
// generation in padding first when required.
func (m *Manager) EraseBlock(blockOff int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markBlockErasable(blockOff)
}

// ErasePage tombstones p's id, reclaiming it from any live storage. If
// that leaves every page in the enclosing block erasable, the block
// itself is marked erasable.
func (m *Manager) ErasePage(p Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.erasePage(p)
}

// erasePage is ErasePage's body, shared with the collector which already
// holds m.mu when it reclaims the pages collectors hand back.
func (m *Manager) erasePage(p Page) {
	id := p.ID()
	m.shredWordOrDouble(p.off)
	m.indexDelete(id)

	blockOff := p.blockOffset()
	if _, allErasable := m.checkPages(blockOff); allErasable {
		m.markBlockErasable(blockOff)
	}
}

// EraseAll tombstones every page with the given id in one sweep and
// starts the collector so the freed blocks get erased.
func (m *Manager) EraseAll(id ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for p := m.First(id); p.Valid(); {
		next := p.Next()
		m.erasePage(p)
		n++
		p = next
	}
	if n > 0 {
		m.runCollectorLocked()
	}
	return n
}

// Pages returns every page currently holding id, in unordered
// enumeration order.
func (m *Manager) Pages(id ID) []Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Page
	for p := m.First(id); p.Valid(); p = p.Next() {
		out = append(out, p)
	}
	return out
}

// RegisterCollector registers a reclamation strategy for id at the given
// priority level (0 = run during every collection pass, >0 = only during
// destructive passes, one at a time). Re-registering the same (id,
// level) pair replaces the delegate in place; otherwise collectors are
// kept sorted ascending by level, first-inserted-wins within a level.
func (m *Manager) RegisterCollector(id ID, level int, fn func(ID) Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.collectors {
		if m.collectors[i].id == id && m.collectors[i].level == level {
			m.collectors[i].fn = fn
			return
		}
	}
	entry := collectorEntry{id: id, level: level, fn: fn}
	i := 0
	for i < len(m.collectors) && m.collectors[i].level <= level {
		i++
	}
	m.collectors = append(m.collectors, collectorEntry{})
	copy(m.collectors[i+1:], m.collectors[i:])
	m.collectors[i] = entry
}

// RegisterNotifier registers fn to be called whenever records for id
// change through Add/Replace/Delete or are relocated by MoveRecords.
// Pages tombstoned by ErasePage, EraseAll or a collector do not trigger it.
func (m *Manager) RegisterNotifier(id ID, fn func(ID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, notifierEntry{id: id, fn: fn})
}

// notify invokes every notifier registered for id. Called with m.mu
// held, so notifier callbacks must not lock it again.
func (m *Manager) notify(id ID) {
	for _, n := range m.notifiers {
		if n.id == id {
			n.fn(id)
		}
	}
}

// RunCollector idempotently starts the background collector goroutine if
// it is not already running.
func (m *Manager) RunCollector() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCollectorLocked()
}

// Collect runs the collector and blocks until the current collection
// pass finishes.
func (m *Manager) Collect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCollectorLocked()
	for m.collecting {
		m.cond.Wait()
	}
}

func (m *Manager) runCollectorLocked() {
	if m.collecting {
		return
	}
	m.collecting = true
	go m.collectorTask()
}

// collectorTask is the collector state machine, run on its own
// goroutine. It holds m.mu only for the duration of each
// synchronous step, releasing it around EraseBlocks' awaits and the
// cooperative yield so mutators are never blocked behind it for long.
func (m *Manager) collectorTask() {
	m.mu.Lock()
	m.collectLocked(false)

	for {
		if m.blocksToErase {
			m.mu.Unlock()
			m.eraseBlocks(context.Background())
			m.mu.Lock()
		}
		if m.pagesAvailable >= m.layout.PagesKeptFree {
			break
		}
		m.mu.Unlock()
		runtime.Gosched()
		m.mu.Lock()

		collected := m.collectLocked(true)
		if collected == 0 && !m.blocksToErase {
			break
		}
	}

	m.collecting = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

// collectLocked runs one pass over the registered collectors. Must be
// called with m.mu held.
func (m *Manager) collectLocked(destructive bool) int {
	n := 0
	for _, c := range m.collectors {
		if !destructive && c.level > 0 {
			break
		}
		for {
			p := c.fn(c.id)
			if !p.Valid() {
				break
			}
			m.erasePage(p)
			n++
			if c.level > 0 {
				// level>0 collectors run at most once per
				// pass so higher-impact strategies are
				// invoked incrementally
				break
			}
		}
	}
	return n
}

// eraseBlocks walks blocks in forward order erasing every one marked
// erasable.
func (m *Manager) eraseBlocks(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocksToErase = false
	for off := m.blkStart; off != m.blkEnd; off += m.layout.BlockSize {
		if m.classifyBlock(off) != blockErasable {
			continue
		}
		gen := m.preservedGeneration(off)

		m.mu.Unlock()
		ok := m.retryErase(ctx, off)
		m.mu.Lock()

		if !ok || !m.blockAllOnes(off, 0) {
			m.blocksToErase = true
			continue
		}
		if gen == 0 {
			// never formatted before; leave empty rather than
			// reformat, matching "treats zero as start over".
			m.pagesAvailable += m.layout.PagesPerBlock
			delete(m.blockFilters, off)
			continue
		}
		if !m.formatBlock(off, gen+1) {
			m.blocksToErase = true
			continue
		}
		m.rebuildBlockFilter(off)
		if off < m.blkFirst {
			m.blkFirst = off
		}
		m.pagesAvailable += m.layout.PagesPerBlock
	}
	m.cond.Broadcast()
}

// retryErase issues the async sector erase, retrying while it reports
// interrupted.
func (m *Manager) retryErase(ctx context.Context, off int) bool {
	for {
		done := m.flash.ErasePageAsync(ctx, off)
		select {
		case ok := <-done:
			if ok {
				return true
			}
			m.logger().Warnw("interrupted erase, retrying", "offset", off)
		case <-ctx.Done():
			return false
		}
	}
}
