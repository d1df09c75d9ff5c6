package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("documents")

// BoltStore is a file-backed store for single-node deployments without a
// Redis server. bbolt has no native expiry, so each entry is prefixed with
// its deadline and expired entries read as absent until lazily deleted.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expired bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil || len(raw) < 8 {
			return nil
		}
		deadline := int64(binary.BigEndian.Uint64(raw))
		if time.Now().UnixNano() > deadline {
			expired = true
			return nil
		}
		value = make([]byte, len(raw)-8)
		copy(value, raw[8:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		// Lazy cleanup; failure here just leaves the entry for the
		// next reader.
		_ = s.Delete(ctx, key)
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *BoltStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw, uint64(time.Now().Add(ttl).UnixNano()))
	copy(raw[8:], value)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), raw)
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}
