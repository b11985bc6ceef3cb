// Package cryptox computes the digests the catalog is built on: the MD5
// content hash that addresses a photo, the SHA-256 checksum over serialized
// shards and manifests, and a cheap prefix key for pre-hash probing.
package cryptox

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/photocatalog/internal/common"
)

// HashContent returns the lowercase hex MD5 of r, read in fixed 1 MiB chunks.
// If expectedSize is non-negative the stream must yield exactly that many
// bytes, otherwise ErrTruncated is returned and no hash is produced.
func HashContent(ctx context.Context, r io.Reader, expectedSize int64) (string, error) {
	h := md5.New()
	buf := make([]byte, common.DefaultChunkSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read content: %w", err)
		}
	}

	if expectedSize >= 0 && total != expectedSize {
		return "", fmt.Errorf("%w: got %d of %d bytes", common.ErrTruncated, total, expectedSize)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum is the SHA-256 hex digest of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PrefixKey hashes at most the first 64 KiB of r and appends size, giving a
// compact key that is cheap to compute before paying for a full hash.
func PrefixKey(r io.Reader, size int64) (string, error) {
	h := md5.New()
	if _, err := io.CopyN(h, r, common.DefaultPrefixBytes); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read prefix: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + strconv.FormatInt(size, 10), nil
}
