// Package checkpoints persists batch checkpoints and the per-item pipeline
// state. Every call is its own statement or transaction, so progress is
// durable as soon as the call returns.
package checkpoints

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/dbx"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/timex"
)

type SQLiteRepository struct {
	db dbx.DB
}

func NewSQLiteRepository(db dbx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores a new checkpoint with its full item list.
func (r *SQLiteRepository) Create(ctx context.Context, cp *models.Checkpoint) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, root, action, status, total_items, target, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, cp.ID, cp.Root, string(cp.Action), string(cp.Status), cp.TotalItems, cp.Target,
			timex.ToUnixNano(cp.StartDate), timex.ToUnixNano(cp.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert checkpoint %s: %w", cp.ID, err)
		}

		for _, it := range cp.Items {
			stage := it.Stage
			if stage == "" {
				stage = models.StagePending
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO checkpoint_items (checkpoint_id, item_id, position, display_name, stage)
				VALUES (?, ?, ?, ?, ?)
			`, cp.ID, it.ItemID, it.Position, it.DisplayName, string(stage))
			if err != nil {
				return fmt.Errorf("failed to insert checkpoint item %s: %w", it.ItemID, err)
			}
		}
		return nil
	})
}

// Get loads a checkpoint with its items, processed and failed lists.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{}
	var (
		action, status     string
		started, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, root, action, status, total_items, target, started_at, updated_at
		FROM checkpoints WHERE id = ?
	`, id).Scan(&cp.ID, &cp.Root, &action, &status, &cp.TotalItems, &cp.Target, &started, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s: %w", id, err)
	}
	cp.Action = models.Action(action)
	cp.Status = models.CheckpointStatus(status)
	cp.StartDate = timex.FromUnixNano(started)
	cp.UpdatedAt = timex.FromUnixNano(updatedAt)

	if err := r.loadItems(ctx, cp); err != nil {
		return nil, err
	}
	cp.ProcessedCount = len(cp.Processed)
	cp.FailedCount = len(cp.Failed)
	return cp, nil
}

func (r *SQLiteRepository) loadItems(ctx context.Context, cp *models.Checkpoint) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id, position, display_name, stage, content_hash, uploaded,
		       processed_at, error, failed_at, retry_count
		FROM checkpoint_items WHERE checkpoint_id = ? ORDER BY position
	`, cp.ID)
	if err != nil {
		return fmt.Errorf("failed to select checkpoint items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it                    models.CheckpointItem
			stage, hash, errMsg   string
			uploaded              bool
			processedAt, failedAt int64
			retries               int
		)
		err := rows.Scan(&it.ItemID, &it.Position, &it.DisplayName, &stage, &hash, &uploaded,
			&processedAt, &errMsg, &failedAt, &retries)
		if err != nil {
			return fmt.Errorf("failed to scan checkpoint item: %w", err)
		}
		it.Stage = models.ItemStage(stage)
		cp.Items = append(cp.Items, it)

		switch it.Stage {
		case models.StageProcessed:
			cp.Processed = append(cp.Processed, models.ProcessedItem{
				ItemID:      it.ItemID,
				DisplayName: it.DisplayName,
				ContentHash: hash,
				ProcessedAt: timex.FromUnixNano(processedAt),
				Uploaded:    uploaded,
			})
		case models.StageFailed:
			cp.Failed = append(cp.Failed, models.FailedItem{
				ItemID:      it.ItemID,
				DisplayName: it.DisplayName,
				Error:       errMsg,
				FailedAt:    timex.FromUnixNano(failedAt),
				RetryCount:  retries,
			})
		}
	}
	return rows.Err()
}

// List returns the checkpoints of root, newest first, without item detail.
func (r *SQLiteRepository) List(ctx context.Context, root string) ([]models.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.action, c.status, c.total_items, c.target, c.started_at, c.updated_at,
		       COALESCE(SUM(CASE WHEN i.stage = 'processed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN i.stage = 'failed' THEN 1 ELSE 0 END), 0)
		FROM checkpoints c
		LEFT JOIN checkpoint_items i ON i.checkpoint_id = c.id
		WHERE c.root = ?
		GROUP BY c.id
		ORDER BY c.started_at DESC
	`, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var (
			cp                 models.Checkpoint
			action, status     string
			started, updatedAt int64
		)
		if err := rows.Scan(&cp.ID, &action, &status, &cp.TotalItems, &cp.Target, &started, &updatedAt,
			&cp.ProcessedCount, &cp.FailedCount); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.Root = root
		cp.Action = models.Action(action)
		cp.Status = models.CheckpointStatus(status)
		cp.StartDate = timex.FromUnixNano(started)
		cp.UpdatedAt = timex.FromUnixNano(updatedAt)
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.CheckpointStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE checkpoints SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), timex.ToUnixNano(at), id)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint %s: %w", id, err)
	}
	return expectOne(res, id)
}

// SetStage moves an item to a non-terminal stage.
func (r *SQLiteRepository) SetStage(ctx context.Context, id, itemID string, stage models.ItemStage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkpoint_items SET stage = ? WHERE checkpoint_id = ? AND item_id = ?
	`, string(stage), id, itemID)
	if err != nil {
		return fmt.Errorf("failed to set stage of %s: %w", itemID, err)
	}
	return expectOne(res, id)
}

// MarkProcessed records a successfully processed item.
func (r *SQLiteRepository) MarkProcessed(ctx context.Context, id string, p models.ProcessedItem) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkpoint_items
		SET stage = ?, content_hash = ?, uploaded = ?, processed_at = ?, error = ''
		WHERE checkpoint_id = ? AND item_id = ?
	`, string(models.StageProcessed), p.ContentHash, p.Uploaded, timex.ToUnixNano(p.ProcessedAt), id, p.ItemID)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", p.ItemID, err)
	}
	return expectOne(res, id)
}

// MarkFailed records a failed attempt and returns the new retry count.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, itemID, msg string, at time.Time) (int, error) {
	var retries int
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE checkpoint_items
			SET stage = ?, error = ?, failed_at = ?, retry_count = retry_count + 1
			WHERE checkpoint_id = ? AND item_id = ?
		`, string(models.StageFailed), msg, timex.ToUnixNano(at), id, itemID)
		if err != nil {
			return fmt.Errorf("failed to mark %s failed: %w", itemID, err)
		}
		if err := expectOne(res, id); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			SELECT retry_count FROM checkpoint_items WHERE checkpoint_id = ? AND item_id = ?
		`, id, itemID).Scan(&retries)
	})
	return retries, err
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_items WHERE checkpoint_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete checkpoint items %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete checkpoint %s: %w", id, err)
		}
		return nil
	})
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrCheckpointNotFound, id)
	}
	return nil
}
