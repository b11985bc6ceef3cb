// Package services wires the catalog, the object store and the local
// repositories into the sync engine, the upload coordinator and the
// library facade the application talks to.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
	"github.com/dmitrijs2005/photocatalog/internal/filex"
	"github.com/dmitrijs2005/photocatalog/internal/identity"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/metrics"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
	"github.com/dmitrijs2005/photocatalog/internal/repositories/metadata"
)

const (
	manifestFileName = "manifest.json"
	stagingPrefix    = ".staging-"
)

// remoteState is what the last successful cycle saw on the remote side.
type remoteState struct {
	PointerETag string            `json:"pointer_etag"`
	ManifestID  string            `json:"manifest_id"`
	Shards      map[string]string `json:"shards"`
}

func (r *remoteState) shardETag(id int) string {
	return r.Shards[catalog.ShardHex(id)]
}

type SyncOptions struct {
	UserID string
	// DataDir holds catalogs/<user>/, the last published shard files.
	DataDir string
}

// SyncService moves catalog state between the local Catalog and the object
// store. Calls are serialized: a second SyncNow waits for the first.
type SyncService struct {
	mu sync.Mutex

	cat    *catalog.Catalog
	store  objstore.Store
	meta   *metadata.SQLiteRepository
	ids    *identity.Cache
	layout catalog.Layout
	log    logging.Logger
	now    func() time.Time

	liveDir    string
	stagingDir string

	// beforePublish runs once staging is verified, before anything pulled
	// is applied.
	beforePublish func(staged string) error
}

// NewSyncService prepares the local catalog directory, repairing it if a
// previous publish was interrupted. ids may be nil.
func NewSyncService(ctx context.Context, opts SyncOptions, cat *catalog.Catalog, store objstore.Store,
	meta *metadata.SQLiteRepository, ids *identity.Cache, log logging.Logger) (*SyncService, error) {

	if opts.UserID == "" {
		return nil, errors.New("sync: user id is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	root, err := filex.EnsureDir(filepath.Join(opts.DataDir, "catalogs"))
	if err != nil {
		return nil, err
	}

	s := &SyncService{
		cat:        cat,
		store:      store,
		meta:       meta,
		ids:        ids,
		layout:     catalog.Layout{UserID: opts.UserID},
		log:        log.With("component", "sync", "user", opts.UserID),
		now:        time.Now,
		liveDir:    filepath.Join(root, opts.UserID),
		stagingDir: root,
	}

	restored, err := filex.RecoverSwap(s.liveDir)
	if err != nil {
		return nil, fmt.Errorf("recover catalog dir: %w", err)
	}
	if restored {
		s.log.Warn(ctx, "restored catalog directory after interrupted publish", "dir", s.liveDir)
	}
	s.removeStaleStaging(ctx)

	return s, nil
}

// LiveDir is the directory holding the last published catalog files.
func (s *SyncService) LiveDir() string { return s.liveDir }

func (s *SyncService) removeStaleStaging(ctx context.Context) {
	stale, err := filepath.Glob(filepath.Join(s.stagingDir, stagingPrefix+s.layout.UserID+"-*"))
	if err != nil {
		return
	}
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn(ctx, "cannot remove abandoned staging dir", "dir", dir, "error", err)
		}
	}
}

// SyncNow pulls remote changes and then publishes local ones. It reports
// whether the local catalog or the remote catalog changed.
func (s *SyncService) SyncNow(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncNow(ctx)
}

// SyncIfStale runs SyncNow unless the last sync is younger than maxAge and
// nothing local awaits publishing.
func (s *SyncService) SyncIfStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.cat.LastRemoteSyncDate()
	if !last.IsZero() && s.now().Sub(last) < maxAge && !s.cat.IsDirty() {
		s.log.Debug(ctx, "catalog is fresh, sync skipped", "last_sync", last)
		return false, nil
	}
	return s.syncNow(ctx)
}

// Pull applies remote changes only.
func (s *SyncService) Pull(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pull(ctx)
}

// Push publishes dirty shards only. It fails with common.ErrRemoteChanged
// when another device published since the last pull.
func (s *SyncService) Push(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push(ctx)
}

func (s *SyncService) syncNow(ctx context.Context) (bool, error) {
	pulled, err := s.pull(ctx)
	if err != nil {
		return false, err
	}
	pushed, err := s.push(ctx)
	if err != nil {
		return pulled, err
	}
	if err := s.cat.SetLastRemoteSyncDate(context.WithoutCancel(ctx), s.now()); err != nil {
		return pulled || pushed, fmt.Errorf("record sync time: %w", err)
	}
	return pulled || pushed, nil
}

func observe(direction string, start time.Time, changed bool, err error) {
	result := metrics.ResultNoop
	switch {
	case err != nil:
		result = metrics.ResultError
	case changed:
		result = metrics.ResultChanged
	}
	metrics.SyncCycles.WithLabelValues(direction, result).Inc()
	metrics.SyncDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}

func (s *SyncService) stateKey() string {
	return "sync/" + s.layout.UserID + "/remote"
}

func (s *SyncService) loadState(ctx context.Context) (*remoteState, error) {
	st := &remoteState{}
	if _, err := metadata.GetJSON(ctx, s.meta, s.stateKey(), st); err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	if st.Shards == nil {
		st.Shards = make(map[string]string, catalog.ShardCount)
	}
	return st, nil
}

func (s *SyncService) saveState(ctx context.Context, st *remoteState) error {
	if err := metadata.SetJSON(ctx, s.meta, s.stateKey(), st); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// headPointer returns the pointer ETag, or "" when no catalog was ever
// published. Any other failure is returned: an unreachable remote is never
// taken to mean "unchanged".
func (s *SyncService) headPointer(ctx context.Context) (string, error) {
	metrics.ManifestChecks.Inc()
	info, err := s.store.Head(ctx, s.layout.PointerKey())
	switch {
	case err == nil:
		return info.ETag, nil
	case errors.Is(err, common.ErrNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("check catalog pointer: %w", err)
	}
}

func (s *SyncService) newStaging() (string, error) {
	return filex.EnsureDir(filepath.Join(s.stagingDir, stagingPrefix+s.layout.UserID+"-"+uuid.NewString()))
}

func (s *SyncService) pull(ctx context.Context) (changed bool, err error) {
	defer func(start time.Time) { observe("pull", start, changed, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return false, err
	}
	// Transfers are not interrupted midway; ctx is checked between them.
	xfer := context.WithoutCancel(ctx)

	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}

	pointerETag, err := s.headPointer(xfer)
	if err != nil {
		return false, err
	}
	if pointerETag == state.PointerETag {
		s.log.Debug(ctx, "remote catalog unchanged", "etag", pointerETag)
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	manifestID, manifest, rawManifest, err := s.fetchManifest(xfer, pointerETag != "", state)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	remote, err := s.checkShards(xfer)
	if err != nil {
		return false, err
	}

	staged, err := s.newStaging()
	if err != nil {
		return false, err
	}
	// after a successful swap staged no longer exists
	defer os.RemoveAll(staged)

	downloaded := make(map[int][]byte)
	base := make(map[int][]byte)
	for id := range catalog.ShardCount {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		name := catalog.ShardFileName(id)
		livePath := filepath.Join(s.liveDir, name)
		haveLive, err := filex.Exists(livePath)
		if err != nil {
			return false, err
		}
		remoteChanged := remote[id] != state.shardETag(id)
		if haveLive && !remoteChanged {
			if err := filex.CopyFile(livePath, filepath.Join(staged, name)); err != nil {
				return false, err
			}
			continue
		}

		data, err := s.downloadShard(xfer, id, remote[id] != "")
		if err != nil {
			return false, err
		}
		if _, err := filex.WriteFileAtomic(filepath.Join(staged, name), bytes.NewReader(data)); err != nil {
			return false, err
		}
		// a shard that only lacked a local file is not re-applied
		if !remoteChanged {
			continue
		}
		downloaded[id] = data
		if haveLive {
			if base[id], err = os.ReadFile(livePath); err != nil {
				return false, fmt.Errorf("read published shard %s: %w", catalog.ShardHex(id), err)
			}
		}
	}

	if err := verifyStaging(staged, manifest); err != nil {
		metrics.IntegrityFailures.Inc()
		s.log.Error(ctx, "staged catalog rejected", "error", err)
		return false, err
	}
	if _, err := filex.WriteFileAtomic(filepath.Join(staged, manifestFileName), bytes.NewReader(rawManifest)); err != nil {
		return false, err
	}

	pulled := make([]catalog.PulledShard, 0, len(downloaded))
	for id := range catalog.ShardCount {
		data, ok := downloaded[id]
		if !ok {
			continue
		}
		log := s.log.With("shard", catalog.ShardHex(id))
		entries, err := catalog.DecodeShard(ctx, bytes.NewReader(data), log)
		if err != nil {
			return false, fmt.Errorf("decode shard %s: %w", catalog.ShardHex(id), err)
		}
		var prev []models.PhotoEntry
		if raw, ok := base[id]; ok {
			if prev, err = catalog.DecodeShard(ctx, bytes.NewReader(raw), log); err != nil {
				return false, fmt.Errorf("decode published shard %s: %w", catalog.ShardHex(id), err)
			}
		}
		pulled = append(pulled, catalog.PulledShard{ID: id, Entries: entries, Checksum: manifest.Checksum(id), Base: prev})
	}

	// last point where cancellation abandons the pull
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.beforePublish != nil {
		if err := s.beforePublish(staged); err != nil {
			return false, err
		}
	}

	// The catalog is applied first: if the swap then fails, the next pull
	// finds the old files and old state and applies the same shards again.
	kept, err := s.cat.ReplaceShards(xfer, pulled)
	if err != nil {
		return false, err
	}
	if len(kept) > 0 {
		s.log.Info(ctx, "unpublished local changes kept over pulled shards", "shards", len(kept))
	}
	if err := filex.SwapDir(s.liveDir, staged); err != nil {
		return false, fmt.Errorf("publish pulled catalog: %w", err)
	}

	state.PointerETag = pointerETag
	state.ManifestID = manifestID
	for id := range catalog.ShardCount {
		state.Shards[catalog.ShardHex(id)] = remote[id]
	}
	if err := s.saveState(xfer, state); err != nil {
		return false, err
	}

	s.rebuildIdentities(ctx)
	s.log.Info(ctx, "pulled remote catalog", "manifest", manifestID, "shards", len(downloaded))
	return len(downloaded) > 0, nil
}

// fetchManifest resolves the published manifest. The copy kept in the live
// directory is reused when its identity still matches the pointer.
func (s *SyncService) fetchManifest(ctx context.Context, published bool, state *remoteState) (string, *catalog.Manifest, []byte, error) {
	if published {
		b, _, err := objstore.GetBytes(ctx, s.store, s.layout.PointerKey())
		switch {
		case errors.Is(err, common.ErrNotFound):
			published = false
		case err != nil:
			return "", nil, nil, fmt.Errorf("read catalog pointer: %w", err)
		default:
			id, err := catalog.DecodePointer(b)
			if err != nil {
				return "", nil, nil, err
			}
			m, raw, err := s.readManifest(ctx, id, state)
			if err != nil {
				return "", nil, nil, err
			}
			return id, m, raw, nil
		}
	}

	// no catalog yet: every shard is empty
	m := catalog.EmptyManifest()
	raw, err := catalog.EncodeManifest(m)
	if err != nil {
		return "", nil, nil, err
	}
	return catalog.ManifestIdentity(raw), m, raw, nil
}

func (s *SyncService) readManifest(ctx context.Context, id string, state *remoteState) (*catalog.Manifest, []byte, error) {
	if id == state.ManifestID {
		raw, err := os.ReadFile(filepath.Join(s.liveDir, manifestFileName))
		if err == nil && catalog.ManifestIdentity(raw) == id {
			if m, err := catalog.DecodeManifest(raw); err == nil {
				return m, raw, nil
			}
		}
	}

	raw, _, err := objstore.GetBytes(ctx, s.store, s.layout.ManifestKey(id))
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: pointer names missing manifest %s", common.ErrIntegrity, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest %s: %w", id, err)
	}
	if got := catalog.ManifestIdentity(raw); got != id {
		return nil, nil, fmt.Errorf("%w: manifest %s has identity %s", common.ErrIntegrity, id, got)
	}
	m, err := catalog.DecodeManifest(raw)
	if err != nil {
		return nil, nil, err
	}
	return m, raw, nil
}

// checkShards fetches the ETag of every remote shard concurrently. Missing
// shards report "".
func (s *SyncService) checkShards(ctx context.Context) ([catalog.ShardCount]string, error) {
	var etags [catalog.ShardCount]string

	g, gctx := errgroup.WithContext(ctx)
	for id := range catalog.ShardCount {
		g.Go(func() error {
			metrics.ShardChecks.Inc()
			info, err := s.store.Head(gctx, s.layout.ShardKey(id))
			switch {
			case err == nil:
				etags[id] = info.ETag
			case errors.Is(err, common.ErrNotFound):
			default:
				return fmt.Errorf("check shard %s: %w", catalog.ShardHex(id), err)
			}
			return nil
		})
	}
	return etags, g.Wait()
}

func (s *SyncService) downloadShard(ctx context.Context, id int, exists bool) ([]byte, error) {
	if !exists {
		return catalog.EncodeShard(nil), nil
	}
	data, _, err := objstore.GetBytes(ctx, s.store, s.layout.ShardKey(id))
	if errors.Is(err, common.ErrNotFound) {
		// removed after the HEAD; verification decides if that is acceptable
		return catalog.EncodeShard(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("download shard %s: %w", catalog.ShardHex(id), err)
	}
	metrics.ShardDownloads.Inc()
	return data, nil
}

// verifyStaging checks that staged holds all shards with the checksums m
// declares.
func verifyStaging(staged string, m *catalog.Manifest) error {
	for id := range catalog.ShardCount {
		data, err := os.ReadFile(filepath.Join(staged, catalog.ShardFileName(id)))
		if err != nil {
			return fmt.Errorf("%w: staged shard %s: %v", common.ErrIntegrity, catalog.ShardHex(id), err)
		}
		if got, want := cryptox.Checksum(data), m.Checksum(id); got != want {
			return fmt.Errorf("%w: shard %s checksum %s, manifest declares %s",
				common.ErrIntegrity, catalog.ShardHex(id), got, want)
		}
	}
	return nil
}

func (s *SyncService) rebuildIdentities(ctx context.Context) {
	if s.ids == nil {
		return
	}
	if err := s.ids.Rebuild(s.cat.StarredEntries()); err != nil {
		s.log.Warn(ctx, "identity cache rebuild failed", "error", err)
	}
}

type pendingShard struct {
	snap     catalog.ShardSnapshot
	checksum string
	data     []byte
	upload   bool
}

func (s *SyncService) push(ctx context.Context) (changed bool, err error) {
	defer func(start time.Time) { observe("push", start, changed, err) }(time.Now())

	dirty := s.cat.DirtyShards()
	if len(dirty) == 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	xfer := context.WithoutCancel(ctx)

	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}

	var checksums [catalog.ShardCount]string
	for id := range catalog.ShardCount {
		st, err := s.cat.Shard(id)
		if err != nil {
			return false, err
		}
		checksums[id] = st.RemoteChecksum
	}

	pending := make(map[int]*pendingShard, len(dirty))
	uploads := 0
	for _, id := range dirty {
		snap, err := s.cat.Snapshot(id)
		if err != nil {
			return false, err
		}
		data := catalog.EncodeShard(snap.Entries)
		p := &pendingShard{snap: snap, checksum: cryptox.Checksum(data), data: data}
		p.upload = p.checksum != snap.State.RemoteChecksum
		if p.upload {
			uploads++
		}
		pending[id] = p
		checksums[id] = p.checksum
	}

	if uploads == 0 {
		// only unpublished fields changed; the remote copy is already right
		for _, id := range dirty {
			p := pending[id]
			if _, err := s.cat.MarkPublished(xfer, id, p.checksum, p.snap.Generation); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	current, err := s.headPointer(xfer)
	if err != nil {
		return false, err
	}
	if current != state.PointerETag {
		return false, fmt.Errorf("%w: pointer %q, last pulled %q", common.ErrRemoteChanged, current, state.PointerETag)
	}

	for id := range catalog.ShardCount {
		if checksums[id] == "" {
			// never published: the local copy is what readers will see
			snap, err := s.cat.Snapshot(id)
			if err != nil {
				return false, err
			}
			checksums[id] = catalog.ShardChecksum(snap.Entries)
		}
	}

	etags := make(map[int]string, uploads)
	for _, id := range dirty {
		p := pending[id]
		if !p.upload {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		info, err := s.store.Put(xfer, s.layout.ShardKey(id), bytes.NewReader(p.data), int64(len(p.data)), common.ContentTypeCSV)
		if err != nil {
			return false, fmt.Errorf("upload shard %s: %w", catalog.ShardHex(id), err)
		}
		metrics.ShardUploads.Inc()
		etags[id] = info.ETag
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	rawManifest, err := catalog.EncodeManifest(catalog.NewManifest(checksums))
	if err != nil {
		return false, err
	}
	manifestID := catalog.ManifestIdentity(rawManifest)
	if _, err := s.store.Put(xfer, s.layout.ManifestKey(manifestID), bytes.NewReader(rawManifest),
		int64(len(rawManifest)), common.ContentTypeJSON); err != nil {
		return false, fmt.Errorf("upload manifest: %w", err)
	}

	pointer := catalog.EncodePointer(manifestID)
	pointerInfo, err := s.store.Put(xfer, s.layout.PointerKey(), bytes.NewReader(pointer), int64(len(pointer)), common.ContentTypeText)
	if err != nil {
		return false, fmt.Errorf("advance catalog pointer: %w", err)
	}

	// published: from here on only local bookkeeping remains
	for _, id := range dirty {
		p := pending[id]
		cleared, err := s.cat.MarkPublished(xfer, id, p.checksum, p.snap.Generation)
		if err != nil {
			return true, err
		}
		if !cleared {
			s.log.Debug(ctx, "shard changed while publishing, stays dirty", "shard", catalog.ShardHex(id))
		}
	}

	if err := s.mirror(pending, rawManifest); err != nil {
		return true, err
	}

	state.PointerETag = pointerInfo.ETag
	state.ManifestID = manifestID
	for id, etag := range etags {
		state.Shards[catalog.ShardHex(id)] = etag
	}
	if err := s.saveState(xfer, state); err != nil {
		return true, err
	}

	s.log.Info(ctx, "published catalog", "manifest", manifestID, "shards", uploads)
	return true, nil
}

// mirror swaps the just-published files into the live directory, keeping
// the other shards as they were.
func (s *SyncService) mirror(pending map[int]*pendingShard, rawManifest []byte) error {
	staged, err := s.newStaging()
	if err != nil {
		return err
	}
	defer os.RemoveAll(staged)

	for id := range catalog.ShardCount {
		name := catalog.ShardFileName(id)
		dst := filepath.Join(staged, name)

		if p, ok := pending[id]; ok {
			if _, err := filex.WriteFileAtomic(dst, bytes.NewReader(p.data)); err != nil {
				return err
			}
			continue
		}

		livePath := filepath.Join(s.liveDir, name)
		haveLive, err := filex.Exists(livePath)
		if err != nil {
			return err
		}
		if haveLive {
			if err := filex.CopyFile(livePath, dst); err != nil {
				return err
			}
			continue
		}

		snap, err := s.cat.Snapshot(id)
		if err != nil {
			return err
		}
		if _, err := filex.WriteFileAtomic(dst, bytes.NewReader(catalog.EncodeShard(snap.Entries))); err != nil {
			return err
		}
	}

	if _, err := filex.WriteFileAtomic(filepath.Join(staged, manifestFileName), bytes.NewReader(rawManifest)); err != nil {
		return err
	}
	if err := filex.SwapDir(s.liveDir, staged); err != nil {
		return fmt.Errorf("mirror published catalog: %w", err)
	}
	return nil
}
