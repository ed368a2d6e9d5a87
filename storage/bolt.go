package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vinayprograms/agentdir/directory"
)

// Common errors.
var (
	ErrClosed  = errors.New("store closed")
	ErrEmptyID = errors.New("record id required")
)

var agentsBucket = []byte("agents")

// BoltStore persists records in a bbolt file, one JSON value per agent id.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the store file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(agentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create agents bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Upsert stores a record, replacing any previous version.
func (s *BoltStore) Upsert(rec directory.AgentRecord) error {
	if rec.ID == "" {
		return ErrEmptyID
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).Put([]byte(rec.ID), data)
	})
}

// Delete removes a record. Deleting an absent id is not an error.
func (s *BoltStore) Delete(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).Delete([]byte(id))
	})
}

// Load returns every stored record. Values that no longer decode are
// skipped rather than failing the whole load.
func (s *BoltStore) Load() ([]directory.AgentRecord, error) {
	var out []directory.AgentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).ForEach(func(_, v []byte) error {
			var rec directory.AgentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return out, nil
}

// Close flushes and closes the underlying file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
