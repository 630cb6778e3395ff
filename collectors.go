package nvram

// Collector strategies. Each returns a page to tombstone, or the zero
// Page when it has nothing to offer this call.
// They are meant to be passed to RegisterCollector, and are invoked with
// Manager.mu already held, so they must only call Manager methods that do
// not take the lock (Scan, OldestFirst, FirstRecord, moveRecords, ...).

// DiscardOldest reclaims the oldest page holding id outright, dropping
// its records.
func (m *Manager) DiscardOldest(id ID) Page {
	return m.OldestFirst(id)
}

// Relocate scans id's pages from oldest to second-newest, asking
// MoveRecords to drain each one's live records into the newest page, and
// returns the first page it fully drains. It never touches the newest
// page itself (there is nowhere newer to relocate into).
func (m *Manager) Relocate(id ID) Page {
	newest, oldest := m.Scan(id)
	if !newest.Valid() || !oldest.Valid() || oldest.off == newest.off {
		return Page{}
	}

	for p := oldest; p.Valid() && p.off != newest.off; p = p.OldestNext() {
		if m.moveRecords(p, newest, m.layout.PagePayload/2) {
			return p
		}
	}
	return Page{}
}

// Cleanup returns the first page older than id's newest page that
// carries no live records.
func (m *Manager) Cleanup(id ID) Page {
	newest, oldest := m.Scan(id)
	if !newest.Valid() {
		return Page{}
	}
	for p := oldest; p.Valid() && p.off != newest.off; p = p.OldestNext() {
		if !m.FirstRecord(p).Valid() {
			return p
		}
	}
	return Page{}
}
