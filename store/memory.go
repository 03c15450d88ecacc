package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps records in process memory. Update transactions hold an
// exclusive lock, which makes them trivially serializable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key][]byte
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key][]byte)}
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{store: s, readOnly: true})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, writes: make(map[Key][]byte), deletes: make(map[Key]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deletes {
		delete(s.records, k)
	}
	for k, v := range tx.writes {
		s.records[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memoryTx overlays uncommitted writes on the committed records.
type memoryTx struct {
	store    *MemoryStore
	readOnly bool
	writes   map[Key][]byte
	deletes  map[Key]bool
}

func (tx *memoryTx) Get(key Key) ([]byte, error) {
	if v, ok := tx.writes[key]; ok {
		return clone(v), nil
	}
	if tx.deletes[key] {
		return nil, ErrNotFound
	}
	v, ok := tx.store.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (tx *memoryTx) Put(key Key, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	delete(tx.deletes, key)
	tx.writes[key] = clone(value)
	return nil
}

func (tx *memoryTx) Insert(key Key, value []byte) error {
	if _, err := tx.Get(key); err == nil {
		return ErrKeyExists
	}
	return tx.Put(key, value)
}

func (tx *memoryTx) Delete(key Key) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	delete(tx.writes, key)
	tx.deletes[key] = true
	return nil
}

func (tx *memoryTx) Scan(t RecordType, prefix string, fn func(Key, []byte) error) error {
	seen := make(map[Key]bool)
	var keys []Key
	for k := range tx.writes {
		if k.Type == t && strings.HasPrefix(k.ID, prefix) {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for k := range tx.store.records {
		if k.Type == t && strings.HasPrefix(k.ID, prefix) && !seen[k] && !tx.deletes[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })

	for _, k := range keys {
		v, err := tx.Get(k)
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
