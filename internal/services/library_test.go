package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/media"
)

func openLibrary(t *testing.T, dataDir string, remote *faultyStore) *Library {
	t.Helper()
	l, err := OpenLibrary(context.Background(), LibraryOptions{
		UserID:         testUser,
		DataDir:        dataDir,
		MaxItemRetries: 3,
		HashCacheSize:  32,
	}, remote, media.FileResolver{}, nil)
	require.NoError(t, err)
	return l
}

func writePhoto(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLibrary_StarSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	remote := &faultyStore{Store: newRemote(t)}
	dataDir := t.TempDir()

	l := openLibrary(t, dataDir, remote)
	path := writePhoto(t, "IMG_0420.jpg", "a photo worth keeping")
	f, err := media.NewLocalFile(path, nil)
	require.NoError(t, err)

	h, err := l.Star(ctx, []media.Item{f})
	require.NoError(t, err)
	cp, err := h.Wait()
	require.NoError(t, err)
	hash := cp.Processed[0].ContentHash

	ok, err := l.IsStarred(hash)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := media.NewLocalFile(path, nil)
	require.NoError(t, err)
	got, likely, err := l.LikelyStarred(ctx, again)
	require.NoError(t, err)
	assert.True(t, likely)
	assert.Equal(t, hash, got)

	other := writePhoto(t, "IMG_0421.jpg", "a different photo")
	unknown, err := media.NewLocalFile(other, nil)
	require.NoError(t, err)
	_, likely, err = l.LikelyStarred(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, likely)

	list, err := l.Checkpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, l.Close())

	l = openLibrary(t, dataDir, remote)
	ok, err = l.IsStarred(hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, l.Catalog.IsDirty(), "the batch published its changes")
	require.NoError(t, l.Close())
}

func TestLibrary_RebuildsLostIdentityCache(t *testing.T) {
	ctx := context.Background()
	remote := &faultyStore{Store: newRemote(t)}
	dataDir := t.TempDir()

	l := openLibrary(t, dataDir, remote)
	f, err := media.NewLocalFile(writePhoto(t, "a.jpg", "aaa"), nil)
	require.NoError(t, err)
	h, err := l.Star(ctx, []media.Item{f})
	require.NoError(t, err)
	cp, err := h.Wait()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.NoError(t, os.Remove(filepath.Join(dataDir, identityFile)))

	l = openLibrary(t, dataDir, remote)
	defer l.Close()
	assert.Equal(t, 1, l.ids.Len())
	ok, err := l.IsStarred(cp.Processed[0].ContentHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLibrary_IsStarred(t *testing.T) {
	remote := &faultyStore{Store: newRemote(t)}
	l := openLibrary(t, t.TempDir(), remote)
	defer l.Close()

	_, err := l.IsStarred("xyz")
	assert.ErrorIs(t, err, common.ErrInvalidContentHash)

	ok, err := l.IsStarred(md5Hex([]byte("never seen")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLibrary_SyncAcrossInstallations(t *testing.T) {
	ctx := context.Background()
	remote := &faultyStore{Store: newRemote(t)}

	phone := openLibrary(t, t.TempDir(), remote)
	defer phone.Close()
	laptop := openLibrary(t, t.TempDir(), remote)
	defer laptop.Close()

	f, err := media.NewLocalFile(writePhoto(t, "b.jpg", "shared"), nil)
	require.NoError(t, err)
	h, err := phone.Star(ctx, []media.Item{f})
	require.NoError(t, err)
	cp, err := h.Wait()
	require.NoError(t, err)

	changed, err := laptop.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err := laptop.IsStarred(cp.Processed[0].ContentHash)
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = laptop.SyncIfStale(ctx, common.DefaultSyncInterval)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestOpenLibrary_RequiresUser(t *testing.T) {
	_, err := OpenLibrary(context.Background(), LibraryOptions{DataDir: t.TempDir()}, newRemote(t), nil, nil)
	assert.Error(t, err)
}
