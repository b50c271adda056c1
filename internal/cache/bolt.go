package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/suphist/internal/errors"
)

const (
	bucketName = "git_output"
	boltFile   = "suphist-cache.db"
)

// BoltStore persists cache entries in one bbolt file.
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
}

// OpenBolt opens (or creates) the cache database in dir.
func OpenBolt(dir string, logger *logrus.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.FileSystemErrorf(err, "creating cache directory %s", dir)
	}
	path := filepath.Join(dir, boltFile)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.StorageErrorf(err, "opening cache %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, errors.StorageErrorf(err, "creating cache bucket")
	}

	logger.WithField("path", path).Debug("Opened bolt cache")
	return &BoltStore{db: db, logger: logger}, nil
}

// Get retrieves a cached value. The returned slice is a copy.
func (b *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return bolt.ErrBucketNotFound
		}
		if data := bucket.Get([]byte(key)); data != nil {
			out = append([]byte{}, data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.StorageErrorf(err, "cache get %s", key)
	}
	return out, out != nil, nil
}

// Set stores a value.
func (b *BoltStore) Set(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return errors.StorageErrorf(err, "cache set %s", key)
	}
	return nil
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
