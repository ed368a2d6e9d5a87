package storage

import (
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/agentdir/directory"
)

// MemoryStore keeps records in a map. Useful for testing and for nodes
// that accept losing the directory on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]directory.AgentRecord
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]directory.AgentRecord),
	}
}

// Upsert stores a record, replacing any previous version.
func (s *MemoryStore) Upsert(rec directory.AgentRecord) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record. Deleting an absent id is not an error.
func (s *MemoryStore) Delete(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Load returns every stored record.
func (s *MemoryStore) Load() ([]directory.AgentRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]directory.AgentRecord, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}
