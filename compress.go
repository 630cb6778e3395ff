package nvram

import "github.com/golang/snappy"

// CompressedVariableStorage wraps VariableStorage, snappy-compressing the
// payload before it is written and decompressing it again on read.
// Fixed-width records cannot use this: recordSize must stay constant,
// and a compressed payload's length varies with its content.
type CompressedVariableStorage struct {
	inner *VariableStorage
}

// NewCompressedVariableStorage returns a compressing façade over id.
func NewCompressedVariableStorage(mgr *Manager, id ID) *CompressedVariableStorage {
	return &CompressedVariableStorage{inner: NewVariableStorage(mgr, id)}
}

// Add compresses data's payload (keeping the first 4 bytes, the key,
// uncompressed so lookups by key still work) and appends it as a new
// record.
func (s *CompressedVariableStorage) Add(data []byte) Record {
	return s.inner.Add(compressPayload(data))
}

// UnorderedFirst returns any record for id, decompressed.
func (s *CompressedVariableStorage) UnorderedFirst() []byte {
	return decompressPayload(s.inner.UnorderedFirst())
}

// NewestFirst returns the newest record for id, decompressed.
func (s *CompressedVariableStorage) NewestFirst() []byte {
	return decompressPayload(s.inner.NewestFirst())
}

// OldestFirst returns the oldest record for id, decompressed.
func (s *CompressedVariableStorage) OldestFirst() []byte {
	return decompressPayload(s.inner.OldestFirst())
}

func compressPayload(data []byte) []byte {
	if len(data) <= 4 {
		return data
	}
	out := make([]byte, 4)
	copy(out, data[:4])
	return append(out, snappy.Encode(nil, data[4:])...)
}

func decompressPayload(data []byte) []byte {
	if len(data) <= 4 {
		return data
	}
	payload, err := snappy.Decode(nil, data[4:])
	if err != nil {
		return nil
	}
	out := make([]byte, 4)
	copy(out, data[:4])
	return append(out, payload...)
}

// CompressedVariableKeyStorage is the keyed equivalent of
// CompressedVariableStorage, compressing the value half of the
// (key, value) pair only.
type CompressedVariableKeyStorage struct {
	inner *VariableKeyStorage
}

// NewCompressedVariableKeyStorage returns a compressing façade over id.
func NewCompressedVariableKeyStorage(mgr *Manager, id ID) *CompressedVariableKeyStorage {
	return &CompressedVariableKeyStorage{inner: NewVariableKeyStorage(mgr, id)}
}

// Add compresses value and appends it under key as a new record.
func (s *CompressedVariableKeyStorage) Add(key uint32, value []byte) Record {
	return s.inner.Add(key, snappy.Encode(nil, value))
}

// Find returns the decompressed value whose explicit key matches key.
func (s *CompressedVariableKeyStorage) Find(key uint32) []byte {
	v := s.inner.Find(key)
	if v == nil {
		return nil
	}
	out, err := snappy.Decode(nil, v)
	if err != nil {
		return nil
	}
	return out
}
