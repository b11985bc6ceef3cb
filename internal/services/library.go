package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
	"github.com/dmitrijs2005/photocatalog/internal/filex"
	"github.com/dmitrijs2005/photocatalog/internal/identity"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/media"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
	"github.com/dmitrijs2005/photocatalog/internal/repositories"
)

const (
	databaseFile = "catalog.db"
	identityFile = "identity.db"
)

type LibraryOptions struct {
	UserID  string
	DataDir string

	MaxItemRetries int
	HashCacheSize  int
	HashCacheTTL   time.Duration
}

// Library is everything one user's catalog needs, built once and passed
// around by reference.
type Library struct {
	Catalog     *catalog.Catalog
	Sync        *SyncService
	Coordinator *Coordinator

	ids   *identity.Cache
	repos *repositories.Repositories
	log   logging.Logger
}

// OpenLibrary opens (or creates) the local state under opts.DataDir.
func OpenLibrary(ctx context.Context, opts LibraryOptions, store objstore.Store, resolver media.Resolver, log logging.Logger) (*Library, error) {
	if opts.UserID == "" {
		return nil, errors.New("library: user id is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if _, err := filex.EnsureDir(opts.DataDir); err != nil {
		return nil, err
	}

	db, err := repositories.InitDatabase(ctx, filepath.Join(opts.DataDir, databaseFile))
	if err != nil {
		return nil, err
	}
	repos := repositories.New(db)

	cat, err := catalog.Open(ctx, opts.UserID, repos.Entries, log)
	if err != nil {
		repos.Close()
		return nil, err
	}

	ids, err := identity.Open(ctx, filepath.Join(opts.DataDir, identityFile), log)
	if err != nil {
		repos.Close()
		return nil, err
	}
	if ids.Len() == 0 {
		if starred := cat.StarredEntries(); len(starred) > 0 {
			log.Info(ctx, "rebuilding identity cache from catalog", "entries", len(starred))
			if err := ids.Rebuild(starred); err != nil {
				log.Warn(ctx, "identity cache rebuild failed", "error", err)
			}
		}
	}

	syncSvc, err := NewSyncService(ctx, SyncOptions{UserID: opts.UserID, DataDir: opts.DataDir},
		cat, store, repos.Metadata, ids, log)
	if err != nil {
		ids.Close()
		repos.Close()
		return nil, err
	}

	var memo *cryptox.Memo
	if opts.HashCacheSize > 0 {
		memo = cryptox.NewMemo(opts.HashCacheSize, opts.HashCacheTTL)
	}

	coord := NewCoordinator(CoordinatorOptions{UserID: opts.UserID, MaxItemRetries: opts.MaxItemRetries},
		cat, store, repos.Checkpoints, syncSvc, resolver, ids, memo, log)

	return &Library{
		Catalog:     cat,
		Sync:        syncSvc,
		Coordinator: coord,
		ids:         ids,
		repos:       repos,
		log:         log,
	}, nil
}

// Close waits for queued batches, then releases local storage.
func (l *Library) Close() error {
	l.Coordinator.Close()
	return errors.Join(l.ids.Close(), l.repos.Close())
}

// IsStarred answers from the identity cache and falls back to the catalog
// on a miss.
func (l *Library) IsStarred(hash string) (bool, error) {
	if err := catalog.ValidateContentHash(hash); err != nil {
		return false, err
	}
	if l.ids.Contains(hash) {
		return true, nil
	}

	e, ok, err := l.Catalog.Find(hash)
	if err != nil || !ok || !e.IsStarred {
		return false, err
	}
	if err := l.ids.Add(hash, ""); err != nil {
		l.log.Warn(context.Background(), "identity cache update failed", "hash", hash, "error", err)
	}
	return true, nil
}

// LikelyStarred probes it by prefix key without reading the whole content.
// A true result is a hint; only the full hash is conclusive.
func (l *Library) LikelyStarred(ctx context.Context, it media.Item) (string, bool, error) {
	if it.Size() < 0 {
		return "", false, nil
	}
	rc, err := it.Open(ctx)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", it.DisplayName(), err)
	}
	defer rc.Close()

	key, err := cryptox.PrefixKey(rc, it.Size())
	if err != nil {
		return "", false, err
	}
	hash, ok := l.ids.LookupPrefix(key)
	return hash, ok, nil
}

// Status is a point-in-time summary of the local catalog.
type Status struct {
	UserID       string
	Entries      int
	Starred      int
	DirtyShards  []int
	ModifiedDate time.Time
	LastSync     time.Time
}

func (l *Library) Status() Status {
	return Status{
		UserID:       l.Catalog.Root(),
		Entries:      l.Catalog.Count(),
		Starred:      len(l.Catalog.StarredEntries()),
		DirtyShards:  l.Catalog.DirtyShards(),
		ModifiedDate: l.Catalog.ModifiedDate(),
		LastSync:     l.Catalog.LastRemoteSyncDate(),
	}
}

func (l *Library) Star(ctx context.Context, items []media.Item) (*Handle, error) {
	return l.Coordinator.Star(ctx, items)
}

func (l *Library) Unstar(ctx context.Context, items []media.Item) (*Handle, error) {
	return l.Coordinator.Unstar(ctx, items)
}

func (l *Library) Export(ctx context.Context, hashes []string, destDir string) (*Handle, error) {
	return l.Coordinator.Export(ctx, hashes, destDir)
}

func (l *Library) Resume(ctx context.Context, checkpointID string) (*Handle, error) {
	return l.Coordinator.Resume(ctx, checkpointID)
}

func (l *Library) Checkpoints(ctx context.Context) ([]models.Checkpoint, error) {
	return l.Coordinator.Checkpoints(ctx)
}

func (l *Library) SyncNow(ctx context.Context) (bool, error) {
	return l.Sync.SyncNow(ctx)
}

func (l *Library) SyncIfStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	return l.Sync.SyncIfStale(ctx, maxAge)
}
