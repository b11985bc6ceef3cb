// Package objstore abstracts the remote blob store the catalog syncs
// against. Keys are slash separated; a missing key is common.ErrNotFound.
package objstore

import (
	"context"
	"fmt"
	"io"
)

// ObjectInfo is the metadata returned by Head and Put. ETag changes
// whenever the object content changes.
type ObjectInfo struct {
	Key  string
	ETag string
	Size int64
}

// Store is the object storage client the sync engine and coordinator use.
// Put bodies that implement io.Seeker may be replayed on retry.
type Store interface {
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// GetBytes reads a whole object.
func GetBytes(ctx context.Context, s Store, key string) ([]byte, ObjectInfo, error) {
	rc, info, err := s.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("read %s: %w", key, err)
	}
	return b, info, nil
}
