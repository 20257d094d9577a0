package checkpoint

import "context"

// NullStore is a no-op store that never persists anything.
// Useful for one-shot runs where resume is not wanted.
type NullStore struct{}

// NewNullStore creates a null store.
func NewNullStore() *NullStore {
	return &NullStore{}
}

// Get always reports an absent record.
func (s *NullStore) Get(ctx context.Context, key Key) (*Record, error) {
	return nil, nil
}

// Put does nothing.
func (s *NullStore) Put(ctx context.Context, record *Record) error {
	return nil
}

// Scan returns an empty iterator.
func (s *NullStore) Scan(ctx context.Context, stageID string) (Iterator, error) {
	return &sliceIterator{}, nil
}

// Close does nothing.
func (s *NullStore) Close() error { return nil }

// Ensure NullStore implements Store.
var _ Store = (*NullStore)(nil)
