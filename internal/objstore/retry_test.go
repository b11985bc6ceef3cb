package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/photocatalog/internal/common"
)

// flakyStore fails the first n calls of every operation with err.
type flakyStore struct {
	Store
	n      int
	err    error
	calls  int
	bodies []string
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.n {
		return f.err
	}
	return nil
}

func (f *flakyStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := f.fail(); err != nil {
		return ObjectInfo{}, err
	}
	return f.Store.Head(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, body io.Reader, size int64, ct string) (ObjectInfo, error) {
	b, _ := io.ReadAll(body)
	f.bodies = append(f.bodies, string(b))
	if err := f.fail(); err != nil {
		return ObjectInfo{}, err
	}
	return f.Store.Put(ctx, key, bytes.NewReader(b), size, ct)
}

func transientErr() error {
	return fmt.Errorf("head: %w: %w", common.ErrTransient, errors.New("connection reset"))
}

func TestRetrying_RetriesTransient(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)
	_, err := fs.Put(ctx, "k", bytes.NewReader([]byte("v")), 1, common.ContentTypeText)
	require.NoError(t, err)

	flaky := &flakyStore{Store: fs, n: 2, err: transientErr()}
	r := NewRetrying(flaky, 3, time.Millisecond, nil)

	info, err := r.Head(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Size)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetrying_GivesUp(t *testing.T) {
	flaky := &flakyStore{Store: newFS(t), n: 100, err: transientErr()}
	r := NewRetrying(flaky, 2, time.Millisecond, nil)

	_, err := r.Head(context.Background(), "k")
	require.ErrorIs(t, err, common.ErrTransient)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetrying_DoesNotRetryPermanent(t *testing.T) {
	for _, perm := range []error{common.ErrNotFound, common.ErrUnauthorized, common.ErrQuotaExceeded} {
		flaky := &flakyStore{Store: newFS(t), n: 100, err: perm}
		r := NewRetrying(flaky, 5, time.Millisecond, nil)

		_, err := r.Head(context.Background(), "k")
		require.ErrorIs(t, err, perm)
		assert.Equal(t, 1, flaky.calls, perm.Error())
	}
}

func TestRetrying_PutReplaysSeekableBody(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: newFS(t), n: 1, err: transientErr()}
	r := NewRetrying(flaky, 3, time.Millisecond, nil)

	_, err := r.Put(ctx, "k", bytes.NewReader([]byte("payload")), 7, common.ContentTypeText)
	require.NoError(t, err)
	assert.Equal(t, []string{"payload", "payload"}, flaky.bodies)
}

func TestRetrying_PutSingleAttemptForStreams(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: newFS(t), n: 1, err: transientErr()}
	r := NewRetrying(flaky, 3, time.Millisecond, nil)

	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("stream"))
		_ = pw.Close()
	}()

	_, err := r.Put(ctx, "k", pr, 6, common.ContentTypeText)
	require.ErrorIs(t, err, common.ErrTransient)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetrying_PointerPutIsNotRetried(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: newFS(t), n: 1, err: transientErr()}
	r := NewRetrying(flaky, 3, time.Millisecond, nil)

	_, err := r.Put(ctx, "catalogs/alice/pointer", bytes.NewReader([]byte("m1")), 2, common.ContentTypeText)
	require.ErrorIs(t, err, common.ErrTransient)
	assert.Equal(t, 1, flaky.calls)

	_, err = r.Put(ctx, "catalogs/alice/0.csv", bytes.NewReader([]byte("x")), 1, common.ContentTypeCSV)
	require.NoError(t, err)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	flaky := &flakyStore{Store: newFS(t), n: 100, err: transientErr()}
	r := NewRetrying(flaky, 50, time.Hour, nil)

	_, err := r.Head(ctx, "k")
	require.Error(t, err)
	assert.LessOrEqual(t, flaky.calls, 1)
}
