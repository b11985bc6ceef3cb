package repositories

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestInitDatabase_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := InitDatabase(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"goose_db_version", "catalogs", "shards", "photo_entries", "metadata", "checkpoints", "checkpoint_items"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db))
}

func TestNew_WiresRepositories(t *testing.T) {
	ctx := context.Background()
	db, err := InitDatabase(ctx, ":memory:")
	require.NoError(t, err)

	repos := New(db)
	defer repos.Close()

	require.NoError(t, repos.Metadata.Set(ctx, "k", []byte("v")))
	got, err := repos.Metadata.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
