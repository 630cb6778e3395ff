package nvram

import "context"

// ID identifies a page type, usually constructed from a short ASCII tag
// via NewID, e.g. NewID("TEST").
type ID uint32

// The two reserved ID values: an all-ones id marks a page slot as empty,
// an all-zero id marks it as erasable (tombstoned).
const (
	IDEmpty    ID = 0xFFFFFFFF
	IDErasable ID = 0
)

// Magic is the four ASCII bytes 'N','V','R','M' read little-endian, stamped
// at the start of every formatted block.
var Magic = NewID("NVRM")

// NewID packs up to 4 ASCII bytes into a little-endian uint32, matching the
// original's ID("XXXX") macro.
func NewID(tag string) ID {
	var v uint32
	for i := 0; i < 4; i++ {
		var b byte
		if i < len(tag) {
			b = tag[i]
		}
		v |= uint32(b) << (8 * uint(i))
	}
	return ID(v)
}

// String renders the ID back to its ASCII tag, trimming trailing NULs.
func (id ID) String() string {
	b := []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

// Flash is the contract the store needs from the underlying hardware (or a
// test double). All offsets are relative to the start of the span returned
// by Range. Write/WriteWord/WriteDouble have AND-semantics: they only ever
// clear bits, and report whether the resulting bytes read back as intended.
// Shred* unconditionally program zeros and cannot fail. Erase restores an
// entire sector to all-ones.
//
// This is a pluggable external contract — nvram does not implement a real
// driver; package emulatedflash provides the in-memory test double used by
// this module's own tests.
type Flash interface {
	// Range returns the usable flash region as a byte slice. Callers may
	// read it directly; all mutation must go through the methods below.
	Range() []byte
	// SectorSize is the erasable unit size (Block size).
	SectorSize() int
	// DoubleWrite reports whether WriteDouble/ShredDouble are available
	// as atomic double-word operations.
	DoubleWrite() bool

	Write(offset int, data []byte) bool
	WriteWord(offset int, word uint32) bool
	WriteDouble(offset int, w0, w1 uint32) bool
	ShredWord(offset int)
	ShredDouble(offset int)

	// Erase synchronously restores [offset, offset+length) to all-ones.
	Erase(offset, length int) bool
	// ErasePageAsync asynchronously erases the sector containing offset,
	// delivering the result (false on an interrupted erase) on the
	// returned channel exactly once.
	ErasePageAsync(ctx context.Context, offset int) <-chan bool
}
