package cryptox

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/photocatalog/internal/common"
)

func md5Hex(b []byte) string {
	s := md5.Sum(b)
	return hex.EncodeToString(s[:])
}

func TestHashContent_KnownValue(t *testing.T) {
	got, err := HashContent(context.Background(), strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", got)
}

func TestHashContent_Empty(t *testing.T) {
	got, err := HashContent(context.Background(), bytes.NewReader(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got)
}

func TestHashContent_MultiChunk(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), (common.DefaultChunkSize*3)/8+17)

	got, err := HashContent(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, md5Hex(data), got)

	// unknown size skips the length check
	got, err = HashContent(context.Background(), bytes.NewReader(data), -1)
	require.NoError(t, err)
	assert.Equal(t, md5Hex(data), got)
}

func TestHashContent_Truncated(t *testing.T) {
	_, err := HashContent(context.Background(), strings.NewReader("hel"), 5)
	require.ErrorIs(t, err, common.ErrTruncated)

	_, err = HashContent(context.Background(), strings.NewReader("hello world"), 5)
	require.ErrorIs(t, err, common.ErrTruncated)
}

type brokenReader struct {
	data []byte
	err  error
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, b.err
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func TestHashContent_PropagatesIOError(t *testing.T) {
	ioErr := errors.New("device gone")
	_, err := HashContent(context.Background(), &brokenReader{data: []byte("abc"), err: ioErr}, -1)
	require.ErrorIs(t, err, ioErr)
}

func TestHashContent_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HashContent(ctx, strings.NewReader("hello"), 5)
	require.ErrorIs(t, err, context.Canceled)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Checksum(nil))
	assert.Equal(t, Checksum([]byte("a")), Checksum([]byte("a")))
	assert.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}

func TestPrefixKey(t *testing.T) {
	big := bytes.Repeat([]byte{1}, common.DefaultPrefixBytes+100)
	other := append(bytes.Repeat([]byte{1}, common.DefaultPrefixBytes), bytes.Repeat([]byte{2}, 100)...)

	k1, err := PrefixKey(bytes.NewReader(big), int64(len(big)))
	require.NoError(t, err)
	k2, err := PrefixKey(bytes.NewReader(other), int64(len(other)))
	require.NoError(t, err)

	// only the prefix and size participate
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasSuffix(k1, ":65636"))

	small, err := PrefixKey(strings.NewReader("hi"), 2)
	require.NoError(t, err)
	assert.Equal(t, md5Hex([]byte("hi"))+":2", small)

	_, err = PrefixKey(&brokenReader{err: io.ErrClosedPipe}, 2)
	require.Error(t, err)
}
