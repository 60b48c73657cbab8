package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
)

func newTestService(t *testing.T, opts ...Option) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, memory.NewRepositoryManager(), logging.Discard(), opts...), mock
}

func expectTx(mock sqlmock.Sqlmock, commit bool) {
	mock.ExpectBegin()
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}

func entry(id string, ct string) *models.PersistedEntry {
	return &models.PersistedEntry{
		EntryID:        id,
		IV:             []byte("123456789012"),
		EncryptedEntry: []byte(ct),
		EncryptedDEK:   []byte("dek"),
	}
}

var keyA = Key{Namespace: "notes", UserID: "u1", PublicKey: "pkA"}

func TestCreate_AndGetSyncInfo(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	info, created, err := s.Create(ctx, keyA, "laptop", usage.Basic)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "laptop", info.Note)

	expectTx(mock, true)
	_, created, err = s.Create(ctx, keyA, "ignored", usage.Basic)
	require.NoError(t, err)
	assert.False(t, created)

	got, ok, err := s.GetSyncInfo(ctx, keyA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "laptop", got.Note)
	assert.Equal(t, "pkA", got.PublicKey)

	_, ok, err = s.GetSyncInfo(ctx, Key{Namespace: "notes", UserID: "u1", PublicKey: "nope"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DeviceLimit(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()
	tier := usage.Tier{MaxDevices: 1, MaxVaults: 10}

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", tier)
	require.NoError(t, err)

	expectTx(mock, false)
	_, _, err = s.Create(ctx, Key{Namespace: "notes", UserID: "u1", PublicKey: "pkB"}, "", tier)
	ue, ok := usage.AsUsageCheckError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, usage.CodeDeviceLimit, ue.Code)

	n, err := s.GetDeviceCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreate_VaultLimitIsSeparateFromDevices(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()
	tier := usage.Tier{MaxDevices: 5, MaxVaults: 1}

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", tier)
	require.NoError(t, err)

	// same device, other namespace: no new device, but a new vault
	expectTx(mock, false)
	_, _, err = s.Create(ctx, Key{Namespace: "tasks", UserID: "u1", PublicKey: "pkA"}, "", tier)
	ue, ok := usage.AsUsageCheckError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, usage.CodeVaultLimit, ue.Code)
}

func TestAppend_DedupAndSequence(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)

	expectTx(mock, true)
	res, err := s.Append(ctx, keyA, []*models.PersistedEntry{entry("e1", "a"), entry("e2", "b"), entry("e1", "a")}, 0)
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	assert.EqualValues(t, 1, res.Accepted[0].Sequence)
	assert.EqualValues(t, 2, res.Accepted[1].Sequence)
	assert.Equal(t, []string{"e1"}, res.Skipped)
	assert.EqualValues(t, 2, res.Head)

	// resend after a lost acknowledgement
	expectTx(mock, true)
	res, err = s.Append(ctx, keyA, []*models.PersistedEntry{entry("e2", "b"), entry("e3", "c")}, 0)
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "e3", res.Accepted[0].EntryID)
	assert.EqualValues(t, 3, res.Accepted[0].Sequence)
	assert.Equal(t, []string{"e2"}, res.Skipped)

	list, ok, err := s.Read(ctx, keyA, 0, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, list, 3)
	for i, e := range list {
		assert.EqualValues(t, i+1, e.Sequence)
	}

	list, _, err = s.Read(ctx, keyA, 2, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e3", list[0].EntryID)

	stats, ok, err := s.GetSyncStats(ctx, keyA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3*(12+1+3), stats.UsedStorageSize)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_StorageLimitBeforePersisting(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)

	expectTx(mock, false)
	_, err = s.Append(ctx, keyA, []*models.PersistedEntry{entry("e1", "0123456789")}, 20)
	ue, ok := usage.AsUsageCheckError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, usage.CodeStorageLimit, ue.Code)
	assert.EqualValues(t, 25, ue.Current)

	list, _, err := s.Read(ctx, keyA, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAppend_MissingVault(t *testing.T) {
	s, mock := newTestService(t)

	expectTx(mock, false)
	_, err := s.Append(context.Background(), keyA, []*models.PersistedEntry{entry("e1", "x")}, 0)
	assert.ErrorIs(t, err, ErrVaultNotFound)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestOffloadAndDestroy(t *testing.T) {
	blobs := NewMemoryBlobStore()
	s, mock := newTestService(t, WithBlobStore(blobs, 4))
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)

	expectTx(mock, true)
	_, err = s.Append(ctx, keyA, []*models.PersistedEntry{entry("big", "ciphertext"), entry("small", "ab")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.Len())

	list, _, err := s.Read(ctx, keyA, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ciphertext", string(list[0].EncryptedEntry))
	assert.Equal(t, BlobKey(keyA, "big"), list[0].BlobKey)
	assert.Equal(t, "ab", string(list[1].EncryptedEntry))

	expectTx(mock, true)
	found, err := s.Destroy(ctx, keyA)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, blobs.Len())

	_, ok, err := s.GetSyncInfo(ctx, keyA)
	require.NoError(t, err)
	assert.False(t, ok)

	expectTx(mock, true)
	found, err = s.Destroy(ctx, keyA)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateAndRoster(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)
	expectTx(mock, true)
	_, _, err = s.Create(ctx, Key{Namespace: "notes", UserID: "u1", PublicKey: "pkB"}, "phone", usage.Basic)
	require.NoError(t, err)

	ok, err := s.Update(ctx, keyA, "laptop")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(ctx, Key{Namespace: "notes", UserID: "u1", PublicKey: "nope"}, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	roster, err := s.Roster(ctx, "notes", "u1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	notes := map[string]string{}
	for _, r := range roster {
		notes[r.PublicKey] = r.Note
	}
	assert.Equal(t, map[string]string{"pkA": "laptop", "pkB": "phone"}, notes)

	n, err := s.GetSyncClientCount(ctx, "notes", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = s.GetVaultCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRecordSync(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)

	require.NoError(t, s.RecordSync(ctx, keyA))
	stats, _, err := s.GetSyncStats(ctx, keyA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.SyncCount)
	assert.NotNil(t, stats.LastSyncAt)

	assert.ErrorIs(t, s.RecordSync(ctx, Key{UserID: "u1", PublicKey: "x"}), ErrVaultNotFound)
}

type failingVaults struct {
	vaults.Repository
}

func (failingVaults) Get(context.Context, string, string, string) (*models.Vault, error) {
	return nil, errors.New("connection reset")
}

type failingManager struct {
	*memory.RepositoryManager
}

func (failingManager) Vaults(dbx.DBTX) vaults.Repository { return failingVaults{} }

func TestStorageAccessError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewService(db, failingManager{memory.NewRepositoryManager()}, logging.Discard())
	_, _, err = s.GetSyncInfo(context.Background(), keyA)

	var se *StorageAccessError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get vault", se.Message)
	assert.EqualError(t, err, "get vault: connection reset")
}

func TestKnownDevice(t *testing.T) {
	s, mock := newTestService(t)
	ctx := context.Background()

	expectTx(mock, true)
	_, _, err := s.Create(ctx, keyA, "", usage.Basic)
	require.NoError(t, err)

	ok, err := s.KnownDevice(ctx, "u1", "pkA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.KnownDevice(ctx, "u2", "pkA")
	require.NoError(t, err)
	assert.False(t, ok)
}
