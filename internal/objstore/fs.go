package objstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/filex"
)

// FSStore keeps objects as files under a root directory. ETags are the MD5
// of the content, as S3 reports for single-part uploads.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if _, err := filex.EnsureDir(root); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	f, err := os.Open(p)
	if err != nil {
		return ObjectInfo{}, mapFSError(key, err)
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head %s: %w: %w", key, common.ErrTransient, err)
	}
	return ObjectInfo{Key: key, ETag: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	p, _ := s.path(key)
	f, err := os.Open(p)
	if err != nil {
		return nil, ObjectInfo{}, mapFSError(key, err)
	}
	return f, info, nil
}

func (s *FSStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	h := md5.New()
	n, err := filex.WriteFileAtomic(p, io.TeeReader(&sizedReader{r: body, want: size}, h))
	if errors.Is(err, common.ErrTruncated) {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s: %w: %w", key, common.ErrTransient, err)
	}
	return ObjectInfo{Key: key, ETag: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w: %w", key, common.ErrTransient, err)
	}
	return nil
}

func mapFSError(key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", key, common.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", key, common.ErrUnauthorized)
	default:
		return fmt.Errorf("%s: %w: %w", key, common.ErrTransient, err)
	}
}

// sizedReader fails at EOF when the stream length differs from want, so a
// short body never replaces an existing object. A negative want disables it.
type sizedReader struct {
	r    io.Reader
	want int64
	got  int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.got += int64(n)
	if s.want >= 0 && (s.got > s.want || (errors.Is(err, io.EOF) && s.got != s.want)) {
		return n, fmt.Errorf("%w: read %d of %d bytes", common.ErrTruncated, s.got, s.want)
	}
	return n, err
}
