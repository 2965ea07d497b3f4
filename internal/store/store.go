// Package store is the flat-file persistence collaborator: a key-path
// get/push store used to seed and inspect room records. It is not on
// the synchronization hot path.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when no value exists at the path.
var ErrNotFound = errors.New("no value at path")

var bucketName = []byte("supersync")

// Store is a flat-file key-path store. Paths are "/"-separated; values
// are JSON documents.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the store file at path.
//
// Postcondition: Returns an open Store or a non-nil error; the caller
// owns Close.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Push writes value (JSON-encoded) at the given key path, replacing any
// previous value.
func (s *Store) Push(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", path, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(normalize(path), data)
	})
}

// Get decodes the value at the given key path into out. Returns
// ErrNotFound when the path holds nothing.
func (s *Store) Get(path string, out any) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(normalize(path))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		data = append(data, v...)
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func normalize(path string) []byte {
	return []byte("/" + strings.Trim(path, "/"))
}
