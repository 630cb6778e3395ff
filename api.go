package nvram

import "encoding/binary"

// AddFixed appends a fixed-width record for id. data's first four bytes
// are the record's key (first word); the whole of data is stored as the
// record payload. Returns the zero Record if no space could be found
// anywhere.
func (m *Manager) AddFixed(id ID, data []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	firstWord := binary.LittleEndian.Uint32(data[:4])
	return m.addImpl(id, firstWord, data[4:], len(data), false, false)
}

// AddVar appends a variable-length record for id, same key convention
// as AddFixed.
func (m *Manager) AddVar(id ID, data []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	firstWord := binary.LittleEndian.Uint32(data[:4])
	return m.addImpl(id, firstWord, data[4:], len(data), true, false)
}

// ReplaceFixed replaces every existing fixed-width record sharing data's
// key with data. Replacing a record with byte-identical content is a
// no-op.
func (m *Manager) ReplaceFixed(id ID, data []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	firstWord := binary.LittleEndian.Uint32(data[:4])
	return m.replaceImpl(id, firstWord, data[4:], len(data), false)
}

// ReplaceVar replaces every existing variable-length record sharing
// data's key with data.
func (m *Manager) ReplaceVar(id ID, data []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	firstWord := binary.LittleEndian.Uint32(data[:4])
	return m.replaceImpl(id, firstWord, data[4:], len(data), true)
}

// Delete shreds every record for (id, firstWord). firstWord == 0 deletes
// every record on every page with id. Returns whether anything matched.
func (m *Manager) Delete(id ID, firstWord uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteImpl(id, firstWord)
}

// MoveRecords relocates every live record of src into dest, provided they
// all fit within limit bytes of dest's free space (limit <= 0: no cap);
// otherwise nothing is moved. Returns whether every record was moved. It
// takes the Manager's lock, so it cannot be called from inside a collector
// or notifier callback, which already run with that lock held.
func (m *Manager) MoveRecords(src, dest Page, limit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveRecords(src, dest, limit)
}
