// Package filex holds the small filesystem primitives the catalog relies on:
// atomic file writes, directory copies, and a rename-based directory swap that
// never leaves a half-replaced directory behind.
package filex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640

	oldSuffix = ".old"
)

// EnsureDir creates dir (and parents) if needed and returns it.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteFileAtomic streams r into path through a temp file in the same
// directory: write, fsync, rename. The temp file is removed on any failure.
func WriteFileAtomic(path string, r io.Reader) (int64, error) {
	if _, err := EnsureDir(filepath.Dir(path)); err != nil {
		return 0, err
	}

	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("fsync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", path, err)
	}
	return n, nil
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	_, err = WriteFileAtomic(dst, in)
	return err
}

// Exists reports whether path exists. Stat errors other than "not exist"
// are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// SwapDir replaces live with staged using renames only. The previous live
// directory is parked at live+".old" until the new one is in place; if the
// second rename fails the old directory is put back, so live is never
// observed half-updated.
func SwapDir(live, staged string) error {
	old := live + oldSuffix

	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("remove stale %s: %w", old, err)
	}

	hadLive, err := Exists(live)
	if err != nil {
		return fmt.Errorf("stat %s: %w", live, err)
	}

	if hadLive {
		if err := os.Rename(live, old); err != nil {
			return fmt.Errorf("park %s: %w", live, err)
		}
	}

	if err := os.Rename(staged, live); err != nil {
		if hadLive {
			if rbErr := os.Rename(old, live); rbErr != nil {
				return fmt.Errorf("publish %s: %w (rollback failed: %v)", live, err, rbErr)
			}
		}
		return fmt.Errorf("publish %s: %w", live, err)
	}

	if hadLive {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("cleanup %s: %w", old, err)
		}
	}
	return nil
}

// RecoverSwap repairs a live directory left behind by an interrupted SwapDir.
// It returns true when the parked copy had to be restored.
func RecoverSwap(live string) (bool, error) {
	old := live + oldSuffix

	hasOld, err := Exists(old)
	if err != nil || !hasOld {
		return false, err
	}

	hasLive, err := Exists(live)
	if err != nil {
		return false, err
	}

	if hasLive {
		// the swap finished, only cleanup was lost
		return false, os.RemoveAll(old)
	}

	if err := os.Rename(old, live); err != nil {
		return false, fmt.Errorf("restore %s: %w", live, err)
	}
	return true, nil
}
