package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltDataBucket   = "data"
	boltExpiryBucket = "expiry"
)

// BoltKV stores keys inside a BoltDB file for single-node deployments.
// TTLs are kept in a sidecar bucket and enforced lazily on Get.
type BoltKV struct {
	db    *bolt.DB
	clock func() time.Time
	once  sync.Once
}

// NewBoltKV opens (or creates) a BoltDB store at the provided path.
func NewBoltKV(path string) (*BoltKV, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltDataBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(boltExpiryBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltKV{db: db, clock: time.Now}, nil
}

func (b *BoltKV) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte
	expired := false

	err := b.db.View(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data := tx.Bucket([]byte(boltDataBucket)).Get([]byte(key))
		if data == nil {
			return &NotFoundError{Resource: "key", Key: key}
		}

		if deadline := tx.Bucket([]byte(boltExpiryBucket)).Get([]byte(key)); deadline != nil {
			at := int64(binary.BigEndian.Uint64(deadline))
			if b.clock().UnixMilli() >= at {
				expired = true
				return &NotFoundError{Resource: "key", Key: key}
			}
		}

		result = append([]byte{}, data...)
		return nil
	})

	if expired {
		_ = b.Delete(ctx, key)
	}
	return result, err
}

func (b *BoltKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := tx.Bucket([]byte(boltDataBucket)).Put([]byte(key), value); err != nil {
			return err
		}

		expiry := tx.Bucket([]byte(boltExpiryBucket))
		if ttl <= 0 {
			return expiry.Delete([]byte(key))
		}
		deadline := make([]byte, 8)
		binary.BigEndian.PutUint64(deadline, uint64(b.clock().Add(ttl).UnixMilli()))
		return expiry.Put([]byte(key), deadline)
	})
}

func (b *BoltKV) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := tx.Bucket([]byte(boltDataBucket)).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket([]byte(boltExpiryBucket)).Delete([]byte(key))
	})
}

// Close shuts down the Bolt DB.
func (b *BoltKV) Close() error {
	b.once.Do(func() {
		_ = b.db.Close()
	})
	return nil
}
