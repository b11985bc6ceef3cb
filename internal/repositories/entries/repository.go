// Package entries persists catalog entries, shard bookkeeping and
// catalog-wide dates in SQLite. It implements catalog.Store.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/dbx"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/timex"
)

var _ catalog.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db dbx.DB
}

func NewSQLiteRepository(db dbx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntries = `
	SELECT content_hash, filename, file_size, photo_date, modified_date,
	       pixel_width, pixel_height, source_id, is_starred, backup_status
	FROM photo_entries WHERE root = ?`

func (r *SQLiteRepository) Load(ctx context.Context, root string) (*catalog.Persisted, error) {
	p := &catalog.Persisted{}

	var modified, synced int64
	err := r.db.QueryRowContext(ctx,
		`SELECT modified_at, last_sync_at FROM catalogs WHERE root = ?`, root).Scan(&modified, &synced)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load catalog %s: %w", root, err)
	default:
		p.Info = catalog.Info{
			ModifiedDate:       timex.FromUnixNano(modified),
			LastRemoteSyncDate: timex.FromUnixNano(synced),
		}
	}

	shards, err := r.loadShards(ctx, root)
	if err != nil {
		return nil, err
	}
	p.Shards = shards

	entries, err := r.queryEntries(ctx, selectEntries+` ORDER BY content_hash`, root)
	if err != nil {
		return nil, err
	}
	p.Entries = entries

	return p, nil
}

func (r *SQLiteRepository) loadShards(ctx context.Context, root string) ([]catalog.ShardState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT shard_id, photo_count, is_modified, remote_checksum
		FROM shards WHERE root = ? ORDER BY shard_id`, root)
	if err != nil {
		return nil, fmt.Errorf("failed to select shards: %w", err)
	}
	defer rows.Close()

	var out []catalog.ShardState
	for rows.Next() {
		var st catalog.ShardState
		if err := rows.Scan(&st.ID, &st.PhotoCount, &st.IsModified, &st.RemoteChecksum); err != nil {
			return nil, fmt.Errorf("failed to scan shard: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shards: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]models.PhotoEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var out []models.PhotoEntry
	for rows.Next() {
		var (
			e                  models.PhotoEntry
			photoDate, modDate int64
			status             string
		)
		err := rows.Scan(&e.ContentHash, &e.Filename, &e.FileSize, &photoDate, &modDate,
			&e.PixelWidth, &e.PixelHeight, &e.SourceID, &e.IsStarred, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.PhotoDate = timex.FromUnixNano(photoDate)
		e.ModifiedDate = timex.FromUnixNano(modDate)
		e.BackupStatus = models.BackupStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return out, nil
}

// ListShard returns the stored entries of one shard ordered by hash.
func (r *SQLiteRepository) ListShard(ctx context.Context, root string, shardID int) ([]models.PhotoEntry, error) {
	return r.queryEntries(ctx, selectEntries+` AND shard_id = ? ORDER BY content_hash`, root, shardID)
}

func (r *SQLiteRepository) SaveEntry(ctx context.Context, root string, e models.PhotoEntry, sh catalog.ShardState, modified time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := upsertEntry(ctx, tx, root, sh.ID, e); err != nil {
			return err
		}
		if err := upsertShard(ctx, tx, root, sh); err != nil {
			return err
		}
		return touchCatalog(ctx, tx, root, modified)
	})
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, root string, hash string, sh catalog.ShardState, modified time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM photo_entries WHERE root = ? AND content_hash = ?`, root, hash)
		if err != nil {
			return fmt.Errorf("failed to delete entry %s: %w", hash, err)
		}
		if err := upsertShard(ctx, tx, root, sh); err != nil {
			return err
		}
		return touchCatalog(ctx, tx, root, modified)
	})
}

// ReplaceShards rewrites every given shard in a single transaction.
func (r *SQLiteRepository) ReplaceShards(ctx context.Context, root string, shards []catalog.ShardReplacement) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, sh := range shards {
			_, err := tx.ExecContext(ctx, `DELETE FROM photo_entries WHERE root = ? AND shard_id = ?`, root, sh.State.ID)
			if err != nil {
				return fmt.Errorf("failed to clear shard %d: %w", sh.State.ID, err)
			}
			for _, e := range sh.Entries {
				if err := upsertEntry(ctx, tx, root, sh.State.ID, e); err != nil {
					return err
				}
			}
			if err := upsertShard(ctx, tx, root, sh.State); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) SaveShard(ctx context.Context, root string, sh catalog.ShardState) error {
	return upsertShard(ctx, r.db, root, sh)
}

func (r *SQLiteRepository) SaveInfo(ctx context.Context, root string, info catalog.Info) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalogs (root, modified_at, last_sync_at) VALUES (?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
			modified_at = excluded.modified_at,
			last_sync_at = excluded.last_sync_at
	`, root, timex.ToUnixNano(info.ModifiedDate), timex.ToUnixNano(info.LastRemoteSyncDate))
	if err != nil {
		return fmt.Errorf("failed to save catalog %s: %w", root, err)
	}
	return nil
}

func upsertEntry(ctx context.Context, tx dbx.DBTX, root string, shardID int, e models.PhotoEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO photo_entries (root, content_hash, shard_id, filename, file_size, photo_date,
			modified_date, pixel_width, pixel_height, source_id, is_starred, backup_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(root, content_hash) DO UPDATE SET
			filename = excluded.filename,
			file_size = excluded.file_size,
			photo_date = excluded.photo_date,
			modified_date = excluded.modified_date,
			pixel_width = excluded.pixel_width,
			pixel_height = excluded.pixel_height,
			source_id = excluded.source_id,
			is_starred = excluded.is_starred,
			backup_status = excluded.backup_status
	`, root, e.ContentHash, shardID, e.Filename, e.FileSize,
		timex.ToUnixNano(e.PhotoDate), timex.ToUnixNano(e.ModifiedDate),
		e.PixelWidth, e.PixelHeight, e.SourceID, e.IsStarred, string(e.BackupStatus))
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", e.ContentHash, err)
	}
	return nil
}

func upsertShard(ctx context.Context, tx dbx.DBTX, root string, sh catalog.ShardState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO shards (root, shard_id, photo_count, is_modified, remote_checksum)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(root, shard_id) DO UPDATE SET
			photo_count = excluded.photo_count,
			is_modified = excluded.is_modified,
			remote_checksum = excluded.remote_checksum
	`, root, sh.ID, sh.PhotoCount, sh.IsModified, sh.RemoteChecksum)
	if err != nil {
		return fmt.Errorf("failed to upsert shard %d: %w", sh.ID, err)
	}
	return nil
}

func touchCatalog(ctx context.Context, tx dbx.DBTX, root string, modified time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO catalogs (root, modified_at) VALUES (?, ?)
		ON CONFLICT(root) DO UPDATE SET modified_at = excluded.modified_at
	`, root, timex.ToUnixNano(modified))
	if err != nil {
		return fmt.Errorf("failed to touch catalog %s: %w", root, err)
	}
	return nil
}
