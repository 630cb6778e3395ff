// Package emulatedflash provides an in-memory nvram.Flash test double:
// a byte slice that can only have bits cleared outside of Erase, plus an
// async erase path whose latency and interruption behaviour tests can
// control.
package emulatedflash

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// op records one mutation for power-fail fuzzing: the exact bytes
// written at offset, captured after the op completed. Replaying a
// prefix of the log means starting from an all-ones buffer and applying
// ops[:n] in order.
type op struct {
	offset int
	after  []byte
}

// Flash is an in-memory nvram.Flash backed by a plain byte slice. The
// zero value is not usable; construct one with New.
type Flash struct {
	mu sync.Mutex

	data        []byte
	sectorSize  int
	doubleWrite bool

	// eraseLatency is how long ErasePageAsync's result takes to
	// arrive once issued, simulating hardware erase time.
	eraseLatency time.Duration
	// interruptCount, when > 0, makes the next that many
	// ErasePageAsync calls against any offset report false (not
	// complete) before a call finally succeeds.
	interruptCount int

	recording bool
	log       []op
}

// Option configures a Flash at construction time.
type Option func(*Flash)

// WithEraseLatency sets how long an async erase takes to complete.
func WithEraseLatency(d time.Duration) Option {
	return func(f *Flash) { f.eraseLatency = d }
}

// WithInterruptedErases makes the first n ErasePageAsync calls report an
// interrupted erase (false) before any erase actually completes.
func WithInterruptedErases(n int) Option {
	return func(f *Flash) { f.interruptCount = n }
}

// WithOpLog enables power-fail fuzz support: every mutation is recorded
// so Snapshot(n) can reconstruct flash state as of the n'th op.
func WithOpLog() Option {
	return func(f *Flash) { f.recording = true }
}

// New returns a Flash of size bytes (sector-aligned), initialized to
// all-ones (erased) state.
func New(size, sectorSize int, doubleWrite bool, opts ...Option) *Flash {
	f := &Flash{
		data:        make([]byte, size),
		sectorSize:  sectorSize,
		doubleWrite: doubleWrite,
	}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flash) Range() []byte     { return f.data }
func (f *Flash) SectorSize() int   { return f.sectorSize }
func (f *Flash) DoubleWrite() bool { return f.doubleWrite }

// record appends an op-log entry for the AND-write that just landed at
// offset, capturing the resulting bytes. Must be called with mu held.
func (f *Flash) record(offset int, length int) {
	if !f.recording {
		return
	}
	after := make([]byte, length)
	copy(after, f.data[offset:offset+length])
	f.log = append(f.log, op{offset: offset, after: after})
}

// Write applies AND-semantics across data onto offset, verifies the
// result, and reports whether it matches.
func (f *Flash) Write(offset int, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, b := range data {
		f.data[offset+i] &= b
	}
	f.record(offset, len(data))
	for i, b := range data {
		if f.data[offset+i] != b {
			return false
		}
	}
	return true
}

// WriteWord programs one 32-bit word with AND-semantics.
func (f *Flash) WriteWord(offset int, word uint32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return f.Write(offset, b[:])
}

// WriteDouble programs two adjacent 32-bit words as one atomic op.
func (f *Flash) WriteDouble(offset int, w0, w1 uint32) bool {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], w0)
	binary.LittleEndian.PutUint32(b[4:8], w1)
	return f.Write(offset, b[:])
}

// ShredWord unconditionally zeros one word.
func (f *Flash) ShredWord(offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[offset] = 0
	f.data[offset+1] = 0
	f.data[offset+2] = 0
	f.data[offset+3] = 0
	f.record(offset, 4)
}

// ShredDouble unconditionally zeros two adjacent words.
func (f *Flash) ShredDouble(offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < 8; i++ {
		f.data[offset+i] = 0
	}
	f.record(offset, 8)
}

// Erase synchronously restores [offset, offset+length) to all-ones.
func (f *Flash) Erase(offset, length int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := offset; i < offset+length; i++ {
		f.data[i] = 0xFF
	}
	f.record(offset, length)
	return true
}

// ErasePageAsync erases the sector containing offset after
// eraseLatency, delivering the result on the returned channel exactly
// once. If interruptCount is still positive, it is decremented and the
// erase is reported incomplete without touching the data, mirroring an
// interrupted hardware erase that a caller must retry.
func (f *Flash) ErasePageAsync(ctx context.Context, offset int) <-chan bool {
	ch := make(chan bool, 1)

	f.mu.Lock()
	interrupted := f.interruptCount > 0
	if interrupted {
		f.interruptCount--
	}
	sector := offset &^ (f.sectorSize - 1)
	latency := f.eraseLatency
	f.mu.Unlock()

	go func() {
		if latency > 0 {
			t := time.NewTimer(latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				ch <- false
				return
			}
		}
		if interrupted {
			ch <- false
			return
		}
		ch <- f.Erase(sector, f.sectorSize)
	}()

	return ch
}

// NewFromBytes wraps an existing byte slice (e.g. one returned by
// Snapshot) as a Flash, without touching its contents. Used to rebuild a
// store handle over a simulated power-fail snapshot.
func NewFromBytes(data []byte, sectorSize int, doubleWrite bool) *Flash {
	return &Flash{data: data, sectorSize: sectorSize, doubleWrite: doubleWrite}
}

// LogLen returns the number of recorded ops (0 if WithOpLog wasn't
// passed to New).
func (f *Flash) LogLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.log)
}

// Snapshot reconstructs flash contents as of the first n recorded ops,
// starting from an all-ones buffer, for power-fail fuzzing: every prefix
// of the op-log must be a state Initialize can recover cleanly from.
func (f *Flash) Snapshot(n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(f.data))
	for i := range out {
		out[i] = 0xFF
	}
	if n > len(f.log) {
		n = len(f.log)
	}
	for _, o := range f.log[:n] {
		copy(out[o.offset:o.offset+len(o.after)], o.after)
	}
	return out
}
