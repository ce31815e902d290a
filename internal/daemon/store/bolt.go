// internal/daemon/store/bolt.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketItems = []byte("items")
)

// BoltStore implements KV using BoltDB. bbolt holds an exclusive file lock
// while open, so only one process can write a ledger file at a time.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) a BoltDB-backed store for writing.
func NewBoltStore(path string) (*BoltStore, error) {
	return openBolt(path, false)
}

// NewReadOnlyBoltStore opens an existing store without taking the write lock.
func NewReadOnlyBoltStore(path string) (*BoltStore, error) {
	return openBolt(path, true)
}

func openBolt(path string, readOnly bool) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: readOnly,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("database %s is locked by another process", path)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketItems); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucketItems, err)
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetItem retrieves a value by key.
func (s *BoltStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		if b == nil {
			return nil // read-only open of a fresh file
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction
		value = string(data)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// SetItem stores a value.
func (s *BoltStore) SetItem(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		if b == nil {
			return fmt.Errorf("items bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// RemoveItem deletes a key.
func (s *BoltStore) RemoveItem(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// CompareAndSwap replaces key inside a single write transaction.
func (s *BoltStore) CompareAndSwap(ctx context.Context, key string, prev *string, next string) (bool, error) {
	swapped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		if b == nil {
			return fmt.Errorf("items bucket not found")
		}
		current := b.Get([]byte(key))
		switch {
		case prev == nil && current != nil:
			return nil
		case prev != nil && (current == nil || string(current) != *prev):
			return nil
		}
		if err := b.Put([]byte(key), []byte(next)); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

var (
	_ KV      = (*BoltStore)(nil)
	_ Swapper = (*BoltStore)(nil)
)
