package nvram

import (
	"bytes"
	"encoding/binary"
)

// The storage façades in this file are thin contract layers over
// Manager/Page: they bind a page id to a record shape and contribute no
// new state machine of their own.

func marshalFixed[T any](v T) []byte {
	buf := new(bytes.Buffer)
	// binary.Write panics on a type with no fixed-size field layout;
	// every T used with the fixed façades is a plain struct of
	// fixed-width numeric fields, as the format requires.
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func unmarshalFixed[T any](data []byte) (T, bool) {
	var v T
	if data == nil {
		return v, false
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &v); err != nil {
		return v, false
	}
	return v, true
}

// FixedStorage binds a page id to a fixed-size record shape T, whose
// first four bytes (after marshaling) serve as the record's key.
type FixedStorage[T any] struct {
	mgr *Manager
	id  ID
}

// NewFixedStorage returns a façade over id for fixed-size records of
// shape T.
func NewFixedStorage[T any](mgr *Manager, id ID) *FixedStorage[T] {
	return &FixedStorage[T]{mgr: mgr, id: id}
}

// Add appends v as a new record.
func (s *FixedStorage[T]) Add(v T) Record {
	return s.mgr.AddFixed(s.id, marshalFixed(v))
}

// UnorderedFirst returns any record for id, in no particular order.
func (s *FixedStorage[T]) UnorderedFirst() (T, bool) {
	return unmarshalFixed[T](s.mgr.FindUnorderedFirst(s.id, 0).Bytes())
}

// NewestFirst returns the newest record for id.
func (s *FixedStorage[T]) NewestFirst() (T, bool) {
	return unmarshalFixed[T](s.mgr.FindNewestFirst(s.id, 0).Bytes())
}

// OldestFirst returns the oldest record for id.
func (s *FixedStorage[T]) OldestFirst() (T, bool) {
	return unmarshalFixed[T](s.mgr.FindOldestFirst(s.id, 0).Bytes())
}

// VariableStorage binds a page id to variable-length byte records, whose
// first four bytes serve as the record's key.
type VariableStorage struct {
	mgr *Manager
	id  ID
}

// NewVariableStorage returns a façade over id for variable-length
// records.
func NewVariableStorage(mgr *Manager, id ID) *VariableStorage {
	return &VariableStorage{mgr: mgr, id: id}
}

// Add appends data as a new record.
func (s *VariableStorage) Add(data []byte) Record {
	return s.mgr.AddVar(s.id, data)
}

// UnorderedFirst returns any record for id, in no particular order.
func (s *VariableStorage) UnorderedFirst() []byte {
	return s.mgr.FindUnorderedFirst(s.id, 0).Bytes()
}

// NewestFirst returns the newest record for id.
func (s *VariableStorage) NewestFirst() []byte {
	return s.mgr.FindNewestFirst(s.id, 0).Bytes()
}

// OldestFirst returns the oldest record for id.
func (s *VariableStorage) OldestFirst() []byte {
	return s.mgr.FindOldestFirst(s.id, 0).Bytes()
}

// packKeyed packs an explicit 32-bit key ahead of a value payload, for
// the *KeyStorage façades where the value itself has no natural key
// field to reuse.
func packKeyed(key uint32, value []byte) []byte {
	out := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint32(out, key)
	copy(out[4:], value)
	return out
}

func unpackKey(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

// FixedKeyStorage binds a page id to fixed-size records of shape T
// prepended with an explicit 32-bit key, so T itself need not reserve a
// key field.
type FixedKeyStorage[T any] struct {
	mgr *Manager
	id  ID
}

// NewFixedKeyStorage returns a façade over id for keyed fixed-size
// records of shape T.
func NewFixedKeyStorage[T any](mgr *Manager, id ID) *FixedKeyStorage[T] {
	return &FixedKeyStorage[T]{mgr: mgr, id: id}
}

// Add appends v under key as a new record.
func (s *FixedKeyStorage[T]) Add(key uint32, v T) Record {
	return s.mgr.AddFixed(s.id, packKeyed(key, marshalFixed(v)))
}

func decodeFixedKeyed[T any](r Record) (uint32, T, bool) {
	data := r.Bytes()
	if data == nil {
		var zero T
		return 0, zero, false
	}
	v, ok := unmarshalFixed[T](data[4:])
	return unpackKey(data), v, ok
}

// UnorderedFirst returns any (key, value) pair for id.
func (s *FixedKeyStorage[T]) UnorderedFirst() (uint32, T, bool) {
	return decodeFixedKeyed[T](s.mgr.FindUnorderedFirst(s.id, 0))
}

// NewestFirst returns the newest (key, value) pair for id.
func (s *FixedKeyStorage[T]) NewestFirst() (uint32, T, bool) {
	return decodeFixedKeyed[T](s.mgr.FindNewestFirst(s.id, 0))
}

// OldestFirst returns the oldest (key, value) pair for id.
func (s *FixedKeyStorage[T]) OldestFirst() (uint32, T, bool) {
	return decodeFixedKeyed[T](s.mgr.FindOldestFirst(s.id, 0))
}

// Find returns the (any) record whose explicit key matches key.
func (s *FixedKeyStorage[T]) Find(key uint32) (T, bool) {
	_, v, ok := decodeFixedKeyed[T](s.mgr.FindUnorderedFirst(s.id, key))
	return v, ok
}

// VariableKeyStorage binds a page id to variable-length records prepended
// with an explicit 32-bit key.
type VariableKeyStorage struct {
	mgr *Manager
	id  ID
}

// NewVariableKeyStorage returns a façade over id for keyed
// variable-length records.
func NewVariableKeyStorage(mgr *Manager, id ID) *VariableKeyStorage {
	return &VariableKeyStorage{mgr: mgr, id: id}
}

// Add appends value under key as a new record.
func (s *VariableKeyStorage) Add(key uint32, value []byte) Record {
	return s.mgr.AddVar(s.id, packKeyed(key, value))
}

func decodeVarKeyed(r Record) (uint32, []byte) {
	data := r.Bytes()
	if data == nil {
		return 0, nil
	}
	return unpackKey(data), data[4:]
}

// UnorderedFirst returns any (key, value) pair for id.
func (s *VariableKeyStorage) UnorderedFirst() (uint32, []byte) {
	return decodeVarKeyed(s.mgr.FindUnorderedFirst(s.id, 0))
}

// NewestFirst returns the newest (key, value) pair for id.
func (s *VariableKeyStorage) NewestFirst() (uint32, []byte) {
	return decodeVarKeyed(s.mgr.FindNewestFirst(s.id, 0))
}

// OldestFirst returns the oldest (key, value) pair for id.
func (s *VariableKeyStorage) OldestFirst() (uint32, []byte) {
	return decodeVarKeyed(s.mgr.FindOldestFirst(s.id, 0))
}

// Find returns the value whose explicit key matches key.
func (s *VariableKeyStorage) Find(key uint32) []byte {
	_, v := decodeVarKeyed(s.mgr.FindUnorderedFirst(s.id, key))
	return v
}

// FixedUniqueKeyStorage layers Get/Set semantics over FixedKeyStorage,
// using Replace so at most one record per key survives.
type FixedUniqueKeyStorage[T any] struct {
	mgr *Manager
	id  ID
}

// NewFixedUniqueKeyStorage returns a Get/Set façade over id for fixed-size
// records of shape T.
func NewFixedUniqueKeyStorage[T any](mgr *Manager, id ID) *FixedUniqueKeyStorage[T] {
	return &FixedUniqueKeyStorage[T]{mgr: mgr, id: id}
}

// Get returns the current value for key.
func (s *FixedUniqueKeyStorage[T]) Get(key uint32) (T, bool) {
	_, v, ok := decodeFixedKeyed[T](s.mgr.FindUnorderedFirst(s.id, key))
	return v, ok
}

// Set replaces the value for key, collapsing any prior duplicates.
func (s *FixedUniqueKeyStorage[T]) Set(key uint32, v T) Record {
	return s.mgr.ReplaceFixed(s.id, packKeyed(key, marshalFixed(v)))
}

// Delete removes key's record, if any.
func (s *FixedUniqueKeyStorage[T]) Delete(key uint32) bool {
	return s.mgr.Delete(s.id, key)
}

// VariableUniqueKeyStorage layers Get/Set semantics over
// VariableKeyStorage, using Replace so at most one record per key
// survives.
type VariableUniqueKeyStorage struct {
	mgr *Manager
	id  ID
}

// NewVariableUniqueKeyStorage returns a Get/Set façade over id for
// variable-length records.
func NewVariableUniqueKeyStorage(mgr *Manager, id ID) *VariableUniqueKeyStorage {
	return &VariableUniqueKeyStorage{mgr: mgr, id: id}
}

// Get returns the current value for key.
func (s *VariableUniqueKeyStorage) Get(key uint32) ([]byte, bool) {
	r := s.mgr.FindUnorderedFirst(s.id, key)
	if !r.Valid() {
		return nil, false
	}
	_, v := decodeVarKeyed(r)
	return v, true
}

// Set replaces the value for key, collapsing any prior duplicates.
func (s *VariableUniqueKeyStorage) Set(key uint32, value []byte) Record {
	return s.mgr.ReplaceVar(s.id, packKeyed(key, value))
}

// Delete removes key's record, if any.
func (s *VariableUniqueKeyStorage) Delete(key uint32) bool {
	return s.mgr.Delete(s.id, key)
}
