// Package storage persists directory records.
//
// Two implementations back the directory's write-through store:
//
//   - MemoryStore: map-backed, for tests and throwaway nodes
//   - BoltStore: bbolt file, one JSON value per agent id
//
// The directory owns ordering: it serializes writes under its own lock,
// so the store only needs to be safe for concurrent readers.
package storage
