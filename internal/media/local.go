package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalFile is a photo on the local filesystem. Its ID is the absolute
// path prefixed with "file:".
type LocalFile struct {
	path     string
	size     int64
	modified time.Time
	thumbs   Thumbnailer
}

const filePrefix = "file:"

// NewLocalFile stats path and returns an item for it.
func NewLocalFile(path string, thumbs Thumbnailer) (*LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &LocalFile{path: abs, size: st.Size(), modified: st.ModTime(), thumbs: thumbs}, nil
}

func (f *LocalFile) ID() string          { return filePrefix + f.path }
func (f *LocalFile) DisplayName() string { return filepath.Base(f.path) }
func (f *LocalFile) Kind() Kind          { return KindLocalFile }
func (f *LocalFile) SourceID() string    { return "" }
func (f *LocalFile) Size() int64         { return f.size }
func (f *LocalFile) Path() string        { return f.path }

// ModTime is the file modification time seen when the item was created.
func (f *LocalFile) ModTime() time.Time { return f.modified }

func (f *LocalFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *LocalFile) Thumbnail(ctx context.Context) ([]byte, error) {
	if f.thumbs == nil {
		return nil, ErrNoThumbnail
	}
	return f.thumbs.Thumbnail(ctx, f.Open)
}

// FileResolver resolves "file:" IDs.
type FileResolver struct {
	Thumbs Thumbnailer
}

func (r FileResolver) Resolve(ctx context.Context, id string) (Item, error) {
	path, ok := strings.CutPrefix(id, filePrefix)
	if !ok {
		return nil, fmt.Errorf("not a local file id: %q", id)
	}
	return NewLocalFile(path, r.Thumbs)
}
