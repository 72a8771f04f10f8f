package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketClientState = []byte("client_state")

// BoltStore is a KV backed by a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the state file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClientState)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Path returns the backing file path.
func (s *BoltStore) Path() string { return s.db.Path() }

func (s *BoltStore) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketClientState).Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction.
		value = string(v)
		ok = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w: %v", key, ErrStorageFail, err)
	}
	return value, ok, nil
}

func (s *BoltStore) SetMany(pairs map[string]string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClientState)
		for k, v := range pairs {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write: %w: %v", ErrStorageFail, err)
	}
	return nil
}

func (s *BoltStore) Delete(keys ...string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClientState)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete: %w: %v", ErrStorageFail, err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
