// internal/scorecache/bolt.go
package scorecache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/go-homedir"
	bolt "go.etcd.io/bbolt"
)

var scoresBucket = []byte("scores")

// Bolt persists similarity scores in a bbolt file so repeated evaluations of
// the same dataset skip scorer calls they have already paid for.
type Bolt struct {
	db *bolt.DB
}

// Open opens or creates the cache file at path. The path may start with ~.
func Open(path string) (*Bolt, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand score cache path %q: %w", path, err)
	}
	db, err := bolt.Open(expanded, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open score cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(scoresBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init score bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Get returns the stored score for key.
func (b *Bolt) Get(_ context.Context, key string) (float64, bool, error) {
	var (
		score float64
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(scoresBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("score for %s has %d bytes, want 8", key, len(data))
		}
		score, found = math.Float64frombits(binary.BigEndian.Uint64(data)), true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return score, found, nil
}

// Put stores score under key.
func (b *Bolt) Put(_ context.Context, key string, score float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(score))
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(scoresBucket).Put([]byte(key), buf[:])
	})
}

// Len reports the number of cached scores.
func (b *Bolt) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(scoresBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
