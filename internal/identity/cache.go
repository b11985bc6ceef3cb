// Package identity keeps a rebuildable, read-mostly set of starred content
// hashes, plus prefix keys for probing a file before hashing it in full.
// The catalog stays authoritative; the cache may be deleted at any time.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/metrics"
	"github.com/dmitrijs2005/photocatalog/internal/models"
)

var (
	hashesBucket   = []byte("hashes")
	prefixesBucket = []byte("prefixes")
)

// Cache mirrors its bbolt file in memory; reads never touch disk.
type Cache struct {
	mu       sync.RWMutex
	db       *bbolt.DB
	path     string
	log      logging.Logger
	hashes   map[string]struct{}
	prefixes map[string]string
}

// Open loads the cache at path. A file that cannot be opened or read is
// discarded and recreated empty.
func Open(ctx context.Context, path string, log logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.Nop()
	}
	c := &Cache{path: path, log: log}

	db, err := openDB(path)
	if err != nil {
		log.Warn(ctx, "identity cache unreadable, recreating", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove identity cache: %w", rmErr)
		}
		if db, err = openDB(path); err != nil {
			return nil, err
		}
	}
	c.db = db

	if err := c.load(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func openDB(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open identity cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(hashesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(prefixesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create identity buckets: %w", err)
	}
	return db, nil
}

func (c *Cache) load() error {
	hashes := make(map[string]struct{})
	prefixes := make(map[string]string)

	err := c.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(hashesBucket).ForEach(func(k, _ []byte) error {
			hashes[string(k)] = struct{}{}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(prefixesBucket).ForEach(func(k, v []byte) error {
			prefixes[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load identity cache: %w", err)
	}

	c.mu.Lock()
	c.hashes, c.prefixes = hashes, prefixes
	c.mu.Unlock()
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Contains reports whether hash is known to be starred.
func (c *Cache) Contains(hash string) bool {
	c.mu.RLock()
	_, ok := c.hashes[hash]
	c.mu.RUnlock()

	if ok {
		metrics.IdentityCacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.IdentityCacheLookups.WithLabelValues("miss").Inc()
	}
	return ok
}

// LookupPrefix returns the hash last recorded for a prefix key. A match is a
// hint only: distinct files can share a prefix and size.
func (c *Cache) LookupPrefix(prefixKey string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.prefixes[prefixKey]
	if !ok {
		return "", false
	}
	if _, known := c.hashes[h]; !known {
		return "", false
	}
	return h, true
}

// Add records hash, and prefixKey when non-empty.
func (c *Cache) Add(hash, prefixKey string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(hashesBucket).Put([]byte(hash), []byte(prefixKey)); err != nil {
			return err
		}
		if prefixKey == "" {
			return nil
		}
		return tx.Bucket(prefixesBucket).Put([]byte(prefixKey), []byte(hash))
	})
	if err != nil {
		return fmt.Errorf("add %s to identity cache: %w", hash, err)
	}

	c.mu.Lock()
	c.hashes[hash] = struct{}{}
	if prefixKey != "" {
		c.prefixes[prefixKey] = hash
	}
	c.mu.Unlock()
	return nil
}

// Remove forgets hash. Prefix keys pointing at it stop matching.
func (c *Cache) Remove(hash string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(hashesBucket)
		if prefix := b.Get([]byte(hash)); len(prefix) > 0 {
			if err := tx.Bucket(prefixesBucket).Delete(prefix); err != nil {
				return err
			}
		}
		return b.Delete([]byte(hash))
	})
	if err != nil {
		return fmt.Errorf("remove %s from identity cache: %w", hash, err)
	}

	c.mu.Lock()
	delete(c.hashes, hash)
	c.mu.Unlock()
	return nil
}

// Rebuild replaces the hash set with the starred entries given. Prefix
// keys of hashes that survive are kept.
func (c *Cache) Rebuild(entries []models.PhotoEntry) error {
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsStarred {
			keep[e.ContentHash] = struct{}{}
		}
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		old := make(map[string][]byte)
		if err := tx.Bucket(hashesBucket).ForEach(func(k, v []byte) error {
			old[string(k)] = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}

		if err := tx.DeleteBucket(hashesBucket); err != nil {
			return err
		}
		hb, err := tx.CreateBucket(hashesBucket)
		if err != nil {
			return err
		}
		pb := tx.Bucket(prefixesBucket)

		for h, prefix := range old {
			if _, ok := keep[h]; !ok && len(prefix) > 0 {
				if err := pb.Delete(prefix); err != nil {
					return err
				}
			}
		}
		for h := range keep {
			prefix := old[h]
			if prefix == nil {
				prefix = []byte{}
			}
			if err := hb.Put([]byte(h), prefix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild identity cache: %w", err)
	}
	return c.load()
}

// Reset empties the cache.
func (c *Cache) Reset() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{hashesBucket, prefixesBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset identity cache: %w", err)
	}
	return c.load()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}
