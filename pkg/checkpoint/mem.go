package checkpoint

import (
	"context"
	"sync"
)

// MemStore is an in-memory checkpoint store for tests and replay.
// It is safe for concurrent use. Records do not survive the process.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

// Get retrieves a record by key. Absent records return (nil, nil).
func (s *MemStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key.String()].Clone(), nil
}

// Put upserts a record.
func (s *MemStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key.String()] = record.Clone()
	return nil
}

// Scan returns an iterator over all records for a stage.
func (s *MemStore) Scan(ctx context.Context, stageID string) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Key.StageID == stageID {
			out = append(out, rec)
		}
	}
	return &sliceIterator{records: out}, nil
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close does nothing for the in-memory store.
func (s *MemStore) Close() error { return nil }

// Ensure MemStore implements Store.
var _ Store = (*MemStore)(nil)
