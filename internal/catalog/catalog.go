// Package catalog holds the sharded, content-addressed photo catalog of one
// library root, and its CSV/manifest wire formats.
//
// A Catalog is the single writer for its shards. Every mutation is written
// through to the Store before it becomes visible in memory, so a failed
// write leaves the catalog unchanged.
package catalog

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/models"
)

// Info is catalog-wide bookkeeping.
type Info struct {
	ModifiedDate       time.Time
	LastRemoteSyncDate time.Time
}

// Persisted is everything a Store returns for one root.
type Persisted struct {
	Info    Info
	Shards  []ShardState
	Entries []models.PhotoEntry
}

// Store persists catalog state. Implementations must apply each call
// atomically.
type Store interface {
	Load(ctx context.Context, root string) (*Persisted, error)
	SaveEntry(ctx context.Context, root string, e models.PhotoEntry, sh ShardState, modified time.Time) error
	DeleteEntry(ctx context.Context, root string, hash string, sh ShardState, modified time.Time) error
	ReplaceShards(ctx context.Context, root string, shards []ShardReplacement) error
	SaveShard(ctx context.Context, root string, sh ShardState) error
	SaveInfo(ctx context.Context, root string, info Info) error
}

// Catalog owns all ShardCount shards of one library root.
type Catalog struct {
	mu sync.RWMutex

	root   string
	store  Store
	log    logging.Logger
	now    func() time.Time
	shards [ShardCount]*shard

	// sourceID -> contentHash; several sources may share one hash
	bySource map[string]string
	info     Info
}

// Open loads the catalog for root from store. All shards are created
// together; a nil store keeps the catalog in memory only.
func Open(ctx context.Context, root string, store Store, log logging.Logger) (*Catalog, error) {
	if log == nil {
		log = logging.Nop()
	}
	c := &Catalog{
		root:     root,
		store:    store,
		log:      log.With("root", root),
		now:      time.Now,
		bySource: make(map[string]string),
	}
	for i := range c.shards {
		c.shards[i] = newShard(i)
	}

	if store == nil {
		return c, nil
	}

	p, err := store.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", root, err)
	}
	c.info = p.Info

	for _, st := range p.Shards {
		if err := checkShardID(st.ID); err != nil {
			return nil, err
		}
		c.shards[st.ID].state = st
	}

	for _, e := range p.Entries {
		id, err := ShardFor(e.ContentHash)
		if err != nil {
			c.log.Warn(ctx, "skipping stored entry", "hash", e.ContentHash, "error", err)
			continue
		}
		c.shards[id].entries[e.ContentHash] = e
		if e.SourceID != "" {
			c.bySource[e.SourceID] = e.ContentHash
		}
	}

	for _, s := range c.shards {
		if s.state.PhotoCount != len(s.entries) {
			c.log.Warn(ctx, "shard count drift, correcting", "shard", s.state.ID,
				"stored", s.state.PhotoCount, "actual", len(s.entries))
			s.state.PhotoCount = len(s.entries)
		}
	}

	c.log.Debug(ctx, "catalog loaded", "entries", len(p.Entries))
	return c, nil
}

// Root returns the root identifier.
func (c *Catalog) Root() string { return c.root }

// Upsert inserts e or merges it into the existing entry with the same hash.
// It returns the stored entry and whether it was newly created.
func (c *Catalog) Upsert(ctx context.Context, e models.PhotoEntry) (models.PhotoEntry, bool, error) {
	id, err := ShardFor(e.ContentHash)
	if err != nil {
		return models.PhotoEntry{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shards[id]
	existing, found := s.entries[e.ContentHash]

	merged := e
	if found {
		merged = existing
		merged.Merge(e)
	}
	if merged.BackupStatus == "" {
		merged.BackupStatus = models.BackupNotQueued
	}

	st := s.state
	st.IsModified = true
	if !found {
		st.PhotoCount++
	}

	now := c.now()
	if c.store != nil {
		if err := c.store.SaveEntry(ctx, c.root, merged, st, now); err != nil {
			return models.PhotoEntry{}, false, fmt.Errorf("save entry %s: %w", e.ContentHash, err)
		}
	}

	// every source id seen for the hash stays a shortcut to it
	if merged.SourceID != "" {
		c.bySource[merged.SourceID] = merged.ContentHash
	}
	s.entries[merged.ContentHash] = merged
	s.state = st
	s.generation++
	c.info.ModifiedDate = now

	return merged, !found, nil
}

// Remove deletes the entry for hash. Removing an absent entry is a no-op.
func (c *Catalog) Remove(ctx context.Context, hash string) error {
	id, err := ShardFor(hash)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shards[id]
	_, ok := s.entries[hash]
	if !ok {
		return nil
	}

	st := s.state
	st.IsModified = true
	st.PhotoCount--

	now := c.now()
	if c.store != nil {
		if err := c.store.DeleteEntry(ctx, c.root, hash, st, now); err != nil {
			return fmt.Errorf("delete entry %s: %w", hash, err)
		}
	}

	c.forgetSources(hash)
	delete(s.entries, hash)
	s.state = st
	s.generation++
	c.info.ModifiedDate = now
	return nil
}

// Find looks up an entry by content hash.
func (c *Catalog) Find(hash string) (models.PhotoEntry, bool, error) {
	id, err := ShardFor(hash)
	if err != nil {
		return models.PhotoEntry{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.shards[id].entries[hash]
	return e, ok, nil
}

// FindBySourceID looks up an entry by its device-library identifier.
func (c *Catalog) FindBySourceID(sourceID string) (models.PhotoEntry, bool) {
	if sourceID == "" {
		return models.PhotoEntry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hash, ok := c.bySource[sourceID]
	if !ok {
		return models.PhotoEntry{}, false
	}
	id, err := ShardFor(hash)
	if err != nil {
		return models.PhotoEntry{}, false
	}
	e, ok := c.shards[id].entries[hash]
	return e, ok
}

// StarredEntries returns every starred entry, ordered by hash.
func (c *Catalog) StarredEntries() []models.PhotoEntry {
	return c.filter(func(e models.PhotoEntry) bool { return e.IsStarred })
}

// All returns every entry, ordered by hash.
func (c *Catalog) All() []models.PhotoEntry {
	return c.filter(func(models.PhotoEntry) bool { return true })
}

func (c *Catalog) filter(keep func(models.PhotoEntry) bool) []models.PhotoEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []models.PhotoEntry
	for _, s := range c.shards {
		for _, e := range s.entries {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	sortEntries(out)
	return out
}

// Count returns the total number of entries.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, s := range c.shards {
		n += s.state.PhotoCount
	}
	return n
}

// Shard returns the state of shard id.
func (c *Catalog) Shard(id int) (ShardState, error) {
	if err := checkShardID(id); err != nil {
		return ShardState{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shards[id].state, nil
}

// Snapshot copies shard id and its entries.
func (c *Catalog) Snapshot(id int) (ShardSnapshot, error) {
	if err := checkShardID(id); err != nil {
		return ShardSnapshot{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shards[id].snapshot(), nil
}

// DirtyShards lists shards with unpublished changes.
func (c *Catalog) DirtyShards() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []int
	for _, s := range c.shards {
		if s.state.IsModified {
			out = append(out, s.state.ID)
		}
	}
	return out
}

// IsDirty reports whether any shard has unpublished changes.
func (c *Catalog) IsDirty() bool {
	return len(c.DirtyShards()) > 0
}

// MarkPublished records that shard id was published with checksum. The
// dirty flag is cleared only if the shard was not mutated after the
// snapshot at generation was taken; the result reports whether it was.
func (c *Catalog) MarkPublished(ctx context.Context, id int, checksum string, generation uint64) (bool, error) {
	if err := checkShardID(id); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shards[id]
	st := s.state
	st.RemoteChecksum = checksum
	cleared := s.generation == generation
	if cleared {
		st.IsModified = false
	}

	if c.store != nil {
		if err := c.store.SaveShard(ctx, c.root, st); err != nil {
			return false, fmt.Errorf("save shard %d: %w", id, err)
		}
	}
	s.state = st
	return cleared, nil
}

// PulledShard is one shard downloaded from the remote. Base is the last
// copy this device published or pulled for the shard; it is only consulted
// when the local shard has unpublished changes.
type PulledShard struct {
	ID       int
	Entries  []models.PhotoEntry
	Checksum string
	Base     []models.PhotoEntry
}

// ShardReplacement is the new content of one shard.
type ShardReplacement struct {
	State   ShardState
	Entries []models.PhotoEntry
}

// ReplaceShards applies pulled shards in one store call and one lock hold,
// so readers never see a mix of old and new shards. A clean shard takes the
// remote content. A shard with unpublished changes keeps them on top of the
// remote content and stays dirty; those shard ids are returned.
func (c *Catalog) ReplaceShards(ctx context.Context, pulled []PulledShard) ([]int, error) {
	remote := make(map[int]map[string]models.PhotoEntry, len(pulled))
	base := make(map[int]map[string]models.PhotoEntry, len(pulled))
	for _, p := range pulled {
		if err := checkShardID(p.ID); err != nil {
			return nil, err
		}
		if _, dup := remote[p.ID]; dup {
			return nil, fmt.Errorf("shard %d pulled twice", p.ID)
		}
		r, err := indexShard(p.ID, p.Entries)
		if err != nil {
			return nil, err
		}
		b, err := indexShard(p.ID, p.Base)
		if err != nil {
			return nil, err
		}
		remote[p.ID], base[p.ID] = r, b
	}
	if len(pulled) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var kept []int
	fresh := make(map[int]map[string]models.PhotoEntry, len(pulled))
	next := make([]ShardReplacement, 0, len(pulled))
	for _, p := range pulled {
		entries := remote[p.ID]
		st := ShardState{ID: p.ID, RemoteChecksum: p.Checksum}
		if s := c.shards[p.ID]; s.state.IsModified {
			entries = reconcile(base[p.ID], s.entries, entries)
			st.IsModified = true
			kept = append(kept, p.ID)
			c.log.Info(ctx, "local changes reapplied over remote shard", "shard", ShardHex(p.ID))
		}
		st.PhotoCount = len(entries)
		fresh[p.ID] = entries

		list := make([]models.PhotoEntry, 0, len(entries))
		for _, e := range entries {
			list = append(list, e)
		}
		sortEntries(list)
		next = append(next, ShardReplacement{State: st, Entries: list})
	}

	if c.store != nil {
		if err := c.store.ReplaceShards(ctx, c.root, next); err != nil {
			return nil, fmt.Errorf("replace shards: %w", err)
		}
	}

	for _, r := range next {
		s := c.shards[r.State.ID]
		entries := fresh[r.State.ID]
		for h := range s.entries {
			if _, ok := entries[h]; !ok {
				c.forgetSources(h)
			}
		}
		for _, e := range entries {
			if e.SourceID != "" {
				c.bySource[e.SourceID] = e.ContentHash
			}
		}
		s.entries = entries
		s.state = r.State
		s.generation++
	}
	return kept, nil
}

func indexShard(id int, entries []models.PhotoEntry) (map[string]models.PhotoEntry, error) {
	out := make(map[string]models.PhotoEntry, len(entries))
	for _, e := range entries {
		sid, err := ShardFor(e.ContentHash)
		if err != nil {
			return nil, err
		}
		if sid != id {
			return nil, fmt.Errorf("entry %s belongs to shard %d, not %d", e.ContentHash, sid, id)
		}
		out[e.ContentHash] = e
	}
	return out, nil
}

// reconcile lays local unpublished changes over a pulled shard. A hash whose
// starred state differs between base and local was changed here and keeps
// the local entry; every other hash follows remote.
func reconcile(base, local, remote map[string]models.PhotoEntry) map[string]models.PhotoEntry {
	out := make(map[string]models.PhotoEntry, len(remote)+len(local))
	for h, r := range remote {
		out[h] = r
	}
	for h := range base {
		if _, ok := local[h]; !ok {
			delete(out, h)
		}
	}
	for h, l := range local {
		_, wasStarred := base[h]
		r, onRemote := out[h]
		switch {
		case l.IsStarred != wasStarred:
			out[h] = l
		case onRemote:
			l.Merge(r)
			out[h] = l
		}
	}
	return out
}

func (c *Catalog) forgetSources(hash string) {
	maps.DeleteFunc(c.bySource, func(_, h string) bool { return h == hash })
}

// ModifiedDate is the time of the last entry mutation.
func (c *Catalog) ModifiedDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.ModifiedDate
}

// LastRemoteSyncDate is the time of the last successful sync.
func (c *Catalog) LastRemoteSyncDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.LastRemoteSyncDate
}

// SetLastRemoteSyncDate records a successful sync.
func (c *Catalog) SetLastRemoteSyncDate(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.info
	info.LastRemoteSyncDate = t
	if c.store != nil {
		if err := c.store.SaveInfo(ctx, c.root, info); err != nil {
			return fmt.Errorf("save catalog info: %w", err)
		}
	}
	c.info = info
	return nil
}
