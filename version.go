package nvram

// RegisterVersionTracker initializes *counter to 1 and registers a
// notifier that increments it whenever records for id change. Use this
// when a higher layer (e.g. a cache) needs a cheap way to detect
// "something about this page id changed" without diffing content.
//
// The notifier runs from Manager.notify with m.mu already held, so it must
// not lock again; it broadcasts Manager's cond itself to wake waiters
// parked in VersionTracker.Wait.
func (m *Manager) RegisterVersionTracker(id ID, counter *uint32) {
	*counter = 1
	m.RegisterNotifier(id, func(ID) {
		(*counter)++
		m.cond.Broadcast()
	})
}

// VersionTracker wraps a version counter for one page id and the
// Manager it's registered against, offering a blocking wait for the
// next change.
type VersionTracker struct {
	mgr     *Manager
	version uint32
}

// NewVersionTracker registers and returns a VersionTracker for id.
func NewVersionTracker(mgr *Manager, id ID) *VersionTracker {
	vt := &VersionTracker{mgr: mgr}
	mgr.RegisterVersionTracker(id, &vt.version)
	return vt
}

// Version returns the current version count.
func (vt *VersionTracker) Version() uint32 {
	vt.mgr.mu.Lock()
	defer vt.mgr.mu.Unlock()
	return vt.version
}

// Wait blocks until the version counter advances past last, returning
// the new version.
func (vt *VersionTracker) Wait(last uint32) uint32 {
	vt.mgr.mu.Lock()
	defer vt.mgr.mu.Unlock()
	for vt.version == last {
		vt.mgr.cond.Wait()
	}
	return vt.version
}
