package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/models"
)

func hashOf(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashInShard returns a syntactically valid hash that lands in shard id.
func hashInShard(id int, n int) string {
	return fmt.Sprintf("%x%031x", id, n)
}

func openMem(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), "alice", nil, nil)
	require.NoError(t, err)
	return c
}

func entry(hash string) models.PhotoEntry {
	return models.PhotoEntry{
		ContentHash: hash,
		Filename:    "IMG_" + hash[:4] + ".jpg",
		FileSize:    1024,
		PhotoDate:   time.Unix(1600000000, 0).UTC(),
		IsStarred:   true,
	}
}

func TestShardFor(t *testing.T) {
	id, err := ShardFor("0" + hashOf("x")[1:])
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	id, err = ShardFor("f" + hashOf("x")[1:])
	require.NoError(t, err)
	assert.Equal(t, 15, id)

	for _, bad := range []string{"", "abc", hashOf("x") + "0", "G" + hashOf("x")[1:], "A" + hashOf("x")[1:]} {
		_, err := ShardFor(bad)
		assert.ErrorIs(t, err, common.ErrInvalidContentHash, bad)
	}
}

func TestShardFor_Totality(t *testing.T) {
	seen := map[int]int{}
	for i := 0; i < 2000; i++ {
		id, err := ShardFor(hashOf(fmt.Sprint(i)))
		require.NoError(t, err)
		require.True(t, id >= 0 && id < ShardCount)
		seen[id]++
	}
	assert.Len(t, seen, ShardCount)
}

func TestParseShardHex(t *testing.T) {
	for i := 0; i < ShardCount; i++ {
		id, err := ParseShardHex(ShardHex(i))
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
	for _, bad := range []string{"10", "g", "", "A", "-1"} {
		_, err := ParseShardHex(bad)
		assert.ErrorIs(t, err, common.ErrShardNotFound, bad)
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	h := hashInShard(7, 1)

	_, created, err := c.Upsert(ctx, entry(h))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = c.Upsert(ctx, entry(h))
	require.NoError(t, err)
	assert.False(t, created)

	st, err := c.Shard(7)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PhotoCount)
	assert.True(t, st.IsModified)
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, []int{7}, c.DirtyShards())
}

func TestUpsert_MergesInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	h := hashInShard(3, 9)

	first := entry(h)
	first.PixelWidth, first.PixelHeight = 4000, 3000
	_, _, err := c.Upsert(ctx, first)
	require.NoError(t, err)

	second := entry(h)
	second.Filename = "other-path.jpg"
	second.SourceID = "asset-1"
	second.BackupStatus = models.BackupUploaded
	got, created, err := c.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, "other-path.jpg", got.Filename)
	assert.Equal(t, 4000, got.PixelWidth)
	assert.Equal(t, models.BackupUploaded, got.BackupStatus)
	assert.Len(t, c.All(), 1)

	bySrc, ok := c.FindBySourceID("asset-1")
	require.True(t, ok)
	assert.Equal(t, h, bySrc.ContentHash)
}

func TestUpsert_DefaultsBackupStatus(t *testing.T) {
	c := openMem(t)
	got, _, err := c.Upsert(context.Background(), entry(hashInShard(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, models.BackupNotQueued, got.BackupStatus)
}

func TestUpsert_InvalidHash(t *testing.T) {
	c := openMem(t)
	_, _, err := c.Upsert(context.Background(), entry("NOT-A-HASH-NOT-A-HASH-NOT-A-HASH"))
	require.ErrorIs(t, err, common.ErrInvalidContentHash)
	assert.Empty(t, c.DirtyShards())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	h := hashInShard(2, 5)

	// absent: no-op, shard stays clean
	require.NoError(t, c.Remove(ctx, h))
	assert.Empty(t, c.DirtyShards())

	e := entry(h)
	e.SourceID = "src"
	_, _, err := c.Upsert(ctx, e)
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, h))

	_, ok, err := c.Find(h)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = c.FindBySourceID("src")
	assert.False(t, ok)

	st, _ := c.Shard(2)
	assert.Equal(t, 0, st.PhotoCount)
	assert.True(t, st.IsModified)

	require.ErrorIs(t, c.Remove(ctx, "zz"), common.ErrInvalidContentHash)
}

func TestUnionOfShardsEqualsLiveEntries(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)

	live := map[string]bool{}
	for i := 0; i < 300; i++ {
		h := hashOf(fmt.Sprint("photo", i))
		_, _, err := c.Upsert(ctx, entry(h))
		require.NoError(t, err)
		live[h] = true
		if i%3 == 0 {
			require.NoError(t, c.Remove(ctx, h))
			delete(live, h)
		}
		if i%5 == 0 {
			_, _, err := c.Upsert(ctx, entry(h))
			require.NoError(t, err)
			live[h] = true
		}
	}

	got := map[string]bool{}
	total := 0
	for id := 0; id < ShardCount; id++ {
		snap, err := c.Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, len(snap.Entries), snap.State.PhotoCount)
		for _, e := range snap.Entries {
			sid, _ := ShardFor(e.ContentHash)
			assert.Equal(t, id, sid)
			require.False(t, got[e.ContentHash], "duplicate across shards")
			got[e.ContentHash] = true
		}
		total += snap.State.PhotoCount
	}
	assert.Equal(t, live, got)
	assert.Equal(t, len(live), total)
	assert.Equal(t, len(live), c.Count())
}

func TestStarredEntries(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)

	a, b := entry(hashInShard(1, 1)), entry(hashInShard(9, 1))
	b.IsStarred = false
	_, _, _ = c.Upsert(ctx, a)
	_, _, _ = c.Upsert(ctx, b)

	starred := c.StarredEntries()
	require.Len(t, starred, 1)
	assert.Equal(t, a.ContentHash, starred[0].ContentHash)
	assert.Len(t, c.All(), 2)
}

func TestMarkPublished_RespectsGeneration(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	h := hashInShard(4, 1)
	_, _, _ = c.Upsert(ctx, entry(h))

	snap, err := c.Snapshot(4)
	require.NoError(t, err)

	// mutation between snapshot and publish keeps the shard dirty
	_, _, _ = c.Upsert(ctx, entry(hashInShard(4, 2)))
	cleared, err := c.MarkPublished(ctx, 4, "sum-1", snap.Generation)
	require.NoError(t, err)
	assert.False(t, cleared)
	st, _ := c.Shard(4)
	assert.True(t, st.IsModified)
	assert.Equal(t, "sum-1", st.RemoteChecksum)

	snap, _ = c.Snapshot(4)
	cleared, err = c.MarkPublished(ctx, 4, "sum-2", snap.Generation)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.False(t, c.IsDirty())

	_, err = c.MarkPublished(ctx, 16, "x", 0)
	require.ErrorIs(t, err, common.ErrShardNotFound)
}

func publish(t *testing.T, c *Catalog, id int) {
	t.Helper()
	snap, err := c.Snapshot(id)
	require.NoError(t, err)
	cleared, err := c.MarkPublished(context.Background(), id, ShardChecksum(snap.Entries), snap.Generation)
	require.NoError(t, err)
	require.True(t, cleared)
}

func TestReplaceShards_CleanShardTakesRemote(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)

	local := entry(hashInShard(5, 1))
	local.SourceID = "local-src"
	_, _, _ = c.Upsert(ctx, local)
	publish(t, c, 5)
	other := entry(hashInShard(6, 1))
	_, _, _ = c.Upsert(ctx, other)

	remote := entry(hashInShard(5, 2))
	remote.SourceID = "remote-src"
	kept, err := c.ReplaceShards(ctx, []PulledShard{{
		ID: 5, Entries: []models.PhotoEntry{remote}, Checksum: "remote-sum", Base: []models.PhotoEntry{local},
	}})
	require.NoError(t, err)
	assert.Empty(t, kept)

	_, ok, _ := c.Find(local.ContentHash)
	assert.False(t, ok)
	_, ok, _ = c.Find(remote.ContentHash)
	assert.True(t, ok)
	_, ok = c.FindBySourceID("local-src")
	assert.False(t, ok)
	_, ok = c.FindBySourceID("remote-src")
	assert.True(t, ok)

	st, _ := c.Shard(5)
	assert.False(t, st.IsModified)
	assert.Equal(t, 1, st.PhotoCount)
	assert.Equal(t, "remote-sum", st.RemoteChecksum)

	// untouched shard keeps its state
	st, _ = c.Shard(6)
	assert.True(t, st.IsModified)

	_, err = c.ReplaceShards(ctx, []PulledShard{{ID: 5, Entries: []models.PhotoEntry{entry(hashInShard(7, 1))}}})
	require.Error(t, err)
	_, err = c.ReplaceShards(ctx, []PulledShard{{ID: 5}, {ID: 5}})
	require.Error(t, err)
}

func TestReplaceShards_KeepsUnpublishedChanges(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)

	kept := entry(hashInShard(0xb, 1))
	unstarred := entry(hashInShard(0xb, 2))
	removed := entry(hashInShard(0xb, 3))
	base := []models.PhotoEntry{kept, unstarred, removed}
	for _, e := range base {
		_, _, _ = c.Upsert(ctx, e)
	}
	publish(t, c, 0xb)

	// local edits since the last publish
	starred := entry(hashInShard(0xb, 4))
	_, _, _ = c.Upsert(ctx, starred)
	off := unstarred
	off.IsStarred = false
	_, _, _ = c.Upsert(ctx, off)
	require.NoError(t, c.Remove(ctx, removed.ContentHash))

	// another device meanwhile starred one photo and dropped another
	theirs := entry(hashInShard(0xb, 5))
	pulled := PulledShard{
		ID:       0xb,
		Entries:  []models.PhotoEntry{unstarred, removed, theirs},
		Checksum: "theirs",
		Base:     base,
	}
	dirty, err := c.ReplaceShards(ctx, []PulledShard{pulled})
	require.NoError(t, err)
	assert.Equal(t, []int{0xb}, dirty)

	var got []string
	for _, e := range c.StarredEntries() {
		got = append(got, e.ContentHash)
	}
	assert.Equal(t, []string{starred.ContentHash, theirs.ContentHash}, got)

	e, ok, _ := c.Find(unstarred.ContentHash)
	require.True(t, ok)
	assert.False(t, e.IsStarred)

	st, _ := c.Shard(0xb)
	assert.True(t, st.IsModified, "merged shard must be published again")
	assert.Equal(t, "theirs", st.RemoteChecksum)
	assert.Equal(t, 3, st.PhotoCount)
}

func TestReplaceShards_StoreFailureLeavesCatalogUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c, err := Open(ctx, "alice", store, nil)
	require.NoError(t, err)

	h0, hb := hashInShard(0, 1), hashInShard(0xb, 1)
	_, _, err = c.Upsert(ctx, entry(h0))
	require.NoError(t, err)
	publish(t, c, 0)

	store.fail = errors.New("disk full")
	_, err = c.ReplaceShards(ctx, []PulledShard{
		{ID: 0, Entries: []models.PhotoEntry{entry(hashInShard(0, 2))}, Checksum: "a"},
		{ID: 0xb, Entries: []models.PhotoEntry{entry(hb)}, Checksum: "b"},
	})
	require.ErrorIs(t, err, store.fail)
	assert.Equal(t, 1, store.replaceCalls, "all shards go to the store together")

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, h0, all[0].ContentHash)
	st, _ := c.Shard(0xb)
	assert.Empty(t, st.RemoteChecksum)
}

func TestUpsert_KeepsEverySourceID(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	h := hashInShard(3, 1)

	for _, src := range []string{"asset-a", "asset-b"} {
		e := entry(h)
		e.SourceID = src
		_, _, err := c.Upsert(ctx, e)
		require.NoError(t, err)
	}

	for _, src := range []string{"asset-a", "asset-b"} {
		e, ok := c.FindBySourceID(src)
		require.True(t, ok, src)
		assert.Equal(t, h, e.ContentHash)
	}

	require.NoError(t, c.Remove(ctx, h))
	_, ok := c.FindBySourceID("asset-a")
	assert.False(t, ok)
	_, ok = c.FindBySourceID("asset-b")
	assert.False(t, ok)
}

type fakeStore struct {
	persisted    *Persisted
	fail         error
	saves        int
	replaceCalls int
}

func (f *fakeStore) Load(context.Context, string) (*Persisted, error) {
	if f.persisted == nil {
		return &Persisted{}, nil
	}
	return f.persisted, nil
}

func (f *fakeStore) SaveEntry(context.Context, string, models.PhotoEntry, ShardState, time.Time) error {
	f.saves++
	return f.fail
}

func (f *fakeStore) DeleteEntry(context.Context, string, string, ShardState, time.Time) error {
	f.saves++
	return f.fail
}

func (f *fakeStore) ReplaceShards(context.Context, string, []ShardReplacement) error {
	f.saves++
	f.replaceCalls++
	return f.fail
}

func (f *fakeStore) SaveShard(context.Context, string, ShardState) error {
	f.saves++
	return f.fail
}

func (f *fakeStore) SaveInfo(context.Context, string, Info) error {
	f.saves++
	return f.fail
}

func TestOpen_LoadsPersistedState(t *testing.T) {
	h := hashInShard(0xa, 1)
	e := entry(h)
	e.SourceID = "s1"
	synced := time.Unix(1700000000, 0).UTC()
	fs := &fakeStore{persisted: &Persisted{
		Info:    Info{LastRemoteSyncDate: synced},
		Shards:  []ShardState{{ID: 0xa, PhotoCount: 5, IsModified: true, RemoteChecksum: "abc"}},
		Entries: []models.PhotoEntry{e, {ContentHash: "broken"}},
	}}

	c, err := Open(context.Background(), "bob", fs, nil)
	require.NoError(t, err)

	st, _ := c.Shard(0xa)
	assert.Equal(t, 1, st.PhotoCount, "count corrected to actual entries")
	assert.True(t, st.IsModified)
	assert.Equal(t, "abc", st.RemoteChecksum)
	assert.Equal(t, synced, c.LastRemoteSyncDate())

	_, ok := c.FindBySourceID("s1")
	assert.True(t, ok)
}

func TestWriteThroughFailureLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	c, err := Open(ctx, "bob", fs, nil)
	require.NoError(t, err)

	h := hashInShard(1, 1)
	_, _, err = c.Upsert(ctx, entry(h))
	require.NoError(t, err)

	fs.fail = errors.New("disk full")

	_, _, err = c.Upsert(ctx, entry(hashInShard(1, 2)))
	require.Error(t, err)
	require.Error(t, c.Remove(ctx, h))
	require.Error(t, c.SetLastRemoteSyncDate(ctx, time.Now()))

	assert.Equal(t, 1, c.Count())
	_, ok, _ := c.Find(h)
	assert.True(t, ok)
	assert.True(t, c.LastRemoteSyncDate().IsZero())
}

func TestModifiedDateBumps(t *testing.T) {
	c := openMem(t)
	fixed := time.Unix(1234, 0)
	c.now = func() time.Time { return fixed }

	_, _, err := c.Upsert(context.Background(), entry(hashInShard(0, 1)))
	require.NoError(t, err)
	assert.Equal(t, fixed, c.ModifiedDate())
}
