package devices

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/client/migrations"
	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

func TestUpsertGetList(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	a := &models.Device{PublicKey: "pkA", Note: "laptop", CreatedAt: now, UpdatedAt: now}
	b := &models.Device{PublicKey: "pkB", CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(time.Minute)}
	require.NoError(t, r.Upsert(ctx, a))
	require.NoError(t, r.Upsert(ctx, b))

	synced := now.Add(time.Hour)
	a.Note = "work laptop"
	a.LastSyncedAt = &synced
	a.SyncCount = 3
	a.UsedStorageSize = 1024
	a.MaxStorageSize = 4096
	require.NoError(t, r.Upsert(ctx, a))

	got, err := r.Get(ctx, "pkA")
	require.NoError(t, err)
	assert.Equal(t, "work laptop", got.Note)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, synced.Equal(*got.LastSyncedAt))
	assert.EqualValues(t, 3, got.SyncCount)
	assert.EqualValues(t, 1024, got.UsedStorageSize)
	assert.EqualValues(t, 4096, got.MaxStorageSize)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pkA", list[0].PublicKey)
	assert.Nil(t, list[1].LastSyncedAt)
}

func TestDeleteAndClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for _, pk := range []string{"a", "b", "c"} {
		require.NoError(t, r.Upsert(ctx, &models.Device{PublicKey: pk, CreatedAt: now, UpdatedAt: now}))
	}
	require.NoError(t, r.Delete(ctx, "a"))
	_, err := r.Get(ctx, "a")
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.Clear(ctx))
	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
