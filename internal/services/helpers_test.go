package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
	"github.com/dmitrijs2005/photocatalog/internal/identity"
	"github.com/dmitrijs2005/photocatalog/internal/media"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
	"github.com/dmitrijs2005/photocatalog/internal/repositories"
)

const testUser = "alice"

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func hashInShard(id int, n int) string {
	return fmt.Sprintf("%x%031x", id, n)
}

func starred(hash string) models.PhotoEntry {
	return models.PhotoEntry{
		ContentHash:  hash,
		Filename:     "IMG_" + hash[:6] + ".jpg",
		FileSize:     2048,
		PhotoDate:    time.Unix(1650000000, 0).UTC(),
		ModifiedDate: time.Unix(1650000100, 0).UTC(),
		IsStarred:    true,
		BackupStatus: models.BackupUploaded,
	}
}

func newRemote(t *testing.T) *objstore.Instrumented {
	t.Helper()
	fs, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return objstore.NewInstrumented(fs)
}

// device is one installation of the app: its own database, data dir and
// identity cache, sharing a remote with other devices.
type device struct {
	dir   string
	repos *repositories.Repositories
	cat   *catalog.Catalog
	ids   *identity.Cache
	sync  *SyncService
}

func newDevice(t *testing.T, remote objstore.Store) *device {
	t.Helper()
	return newDeviceWith(t, remote, nil)
}

// newDeviceWith lets wrap intercept the catalog's persistence.
func newDeviceWith(t *testing.T, remote objstore.Store, wrap func(catalog.Store) catalog.Store) *device {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := repositories.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)
	repos := repositories.New(db)
	t.Cleanup(func() { _ = repos.Close() })

	var store catalog.Store = repos.Entries
	if wrap != nil {
		store = wrap(store)
	}
	cat, err := catalog.Open(ctx, testUser, store, nil)
	require.NoError(t, err)

	ids, err := identity.Open(ctx, filepath.Join(dir, "identity.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ids.Close() })

	s, err := NewSyncService(ctx, SyncOptions{UserID: testUser, DataDir: dir}, cat, remote, repos.Metadata, ids, nil)
	require.NoError(t, err)

	return &device{dir: dir, repos: repos, cat: cat, ids: ids, sync: s}
}

func (d *device) star(t *testing.T, hashes ...string) {
	t.Helper()
	for _, h := range hashes {
		_, _, err := d.cat.Upsert(context.Background(), starred(h))
		require.NoError(t, err)
	}
}

func (d *device) coordinator(t *testing.T, remote objstore.Store, resolver media.Resolver) *Coordinator {
	t.Helper()
	c := NewCoordinator(CoordinatorOptions{UserID: testUser, MaxItemRetries: 3}, d.cat, remote,
		d.repos.Checkpoints, d.sync, resolver, d.ids, cryptox.NewMemo(64, 0), nil)
	t.Cleanup(c.Close)
	return c
}

func starredHashes(c *catalog.Catalog) []string {
	var out []string
	for _, e := range c.StarredEntries() {
		out = append(out, e.ContentHash)
	}
	return out
}

// readDir returns the files of dir by name.
func readDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(b)
	}
	return out
}

func remoteManifest(t *testing.T, store objstore.Store) *catalog.Manifest {
	t.Helper()
	ctx := context.Background()
	layout := catalog.Layout{UserID: testUser}

	b, _, err := objstore.GetBytes(ctx, store, layout.PointerKey())
	require.NoError(t, err)
	id, err := catalog.DecodePointer(b)
	require.NoError(t, err)
	raw, _, err := objstore.GetBytes(ctx, store, layout.ManifestKey(id))
	require.NoError(t, err)
	m, err := catalog.DecodeManifest(raw)
	require.NoError(t, err)
	return m
}

// faultyStore fails the calls its rule picks.
type faultyStore struct {
	objstore.Store

	mu   sync.Mutex
	rule func(op, key string) error
}

func (f *faultyStore) setRule(rule func(op, key string) error) {
	f.mu.Lock()
	f.rule = rule
	f.mu.Unlock()
}

func (f *faultyStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rule == nil {
		return nil
	}
	return f.rule(op, key)
}

func (f *faultyStore) Head(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	if err := f.check("head", key); err != nil {
		return objstore.ObjectInfo{}, err
	}
	return f.Store.Head(ctx, key)
}

func (f *faultyStore) Get(ctx context.Context, key string) (io.ReadCloser, objstore.ObjectInfo, error) {
	if err := f.check("get", key); err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (objstore.ObjectInfo, error) {
	if err := f.check("put", key); err != nil {
		return objstore.ObjectInfo{}, err
	}
	return f.Store.Put(ctx, key, body, size, contentType)
}

// brokenCatalogStore fails ReplaceShards with err while err is set.
type brokenCatalogStore struct {
	catalog.Store
	err error
}

func (b *brokenCatalogStore) ReplaceShards(ctx context.Context, root string, shards []catalog.ShardReplacement) error {
	if b.err != nil {
		return b.err
	}
	return b.Store.ReplaceShards(ctx, root, shards)
}

// fakeItem is an in-memory photo reference.
type fakeItem struct {
	id     string
	name   string
	source string
	data   []byte
	thumb  []byte

	// gate, when set, blocks Open until closed
	gate    chan struct{}
	openErr error
	opens   atomic.Int32
}

func newItem(id string, data string) *fakeItem {
	return &fakeItem{id: "test:" + id, name: id + ".jpg", data: []byte(data)}
}

func (f *fakeItem) ID() string          { return f.id }
func (f *fakeItem) DisplayName() string { return f.name }
func (f *fakeItem) Kind() media.Kind    { return media.KindLocalFile }
func (f *fakeItem) SourceID() string    { return f.source }
func (f *fakeItem) Size() int64         { return int64(len(f.data)) }

func (f *fakeItem) Open(ctx context.Context) (io.ReadCloser, error) {
	f.opens.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *fakeItem) Thumbnail(ctx context.Context) ([]byte, error) {
	if f.thumb == nil {
		return nil, media.ErrNoThumbnail
	}
	return f.thumb, nil
}

func (f *fakeItem) hash() string { return md5Hex(f.data) }

type mapResolver map[string]media.Item

func (m mapResolver) Resolve(ctx context.Context, id string) (media.Item, error) {
	it, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("unknown item %s", id)
	}
	return it, nil
}

func resolverFor(items ...*fakeItem) mapResolver {
	m := make(mapResolver, len(items))
	for _, it := range items {
		m[it.ID()] = it
	}
	return m
}

func asItems(items ...*fakeItem) []media.Item {
	out := make([]media.Item, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func processedIDs(cp *models.Checkpoint) []string {
	var out []string
	for _, p := range cp.Processed {
		out = append(out, p.ItemID)
	}
	sort.Strings(out)
	return out
}
