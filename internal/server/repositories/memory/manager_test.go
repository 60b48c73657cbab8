package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

func TestUsers(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()

	u, err := m.Users(nil).Create(ctx, &models.User{UserName: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = m.Users(nil).Create(ctx, &models.User{UserName: "alice"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	sub, err := m.Users(nil).GetSubscription(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionBasic, sub)

	_, err = m.Users(nil).GetUserByLogin(ctx, "bob")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRefreshTokens_ConsumeOnce(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	repo := m.RefreshTokens(nil)

	require.NoError(t, repo.Create(ctx, "u1", "tok", time.Hour))
	tok, err := repo.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.UserID)

	_, err = repo.Consume(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, repo.Create(ctx, "u1", "old", -time.Minute))
	n, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestVaults_CountsAndEntries(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	vaults := m.Vaults(nil)

	a, err := vaults.Create(ctx, &models.Vault{Namespace: "n1", UserID: "u1", PublicKey: "pkA"})
	require.NoError(t, err)
	_, err = vaults.Create(ctx, &models.Vault{Namespace: "n2", UserID: "u1", PublicKey: "pkA"})
	require.NoError(t, err)
	_, err = vaults.Create(ctx, &models.Vault{Namespace: "n1", UserID: "u1", PublicKey: "pkB"})
	require.NoError(t, err)
	_, err = vaults.Create(ctx, &models.Vault{Namespace: "n1", UserID: "u1", PublicKey: "pkA"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	devices, _ := vaults.CountDevicesByUser(ctx, "u1")
	total, _ := vaults.CountByUser(ctx, "u1")
	inNS, _ := vaults.CountByNamespace(ctx, "n1", "u1")
	assert.EqualValues(t, 2, devices)
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 2, inNS)

	entries := m.Entries(nil)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, entries.Insert(ctx, &models.PersistedEntry{VaultID: a.ID, Sequence: i, EntryID: "e" + strconv.FormatInt(i, 10)}))
	}
	assert.ErrorIs(t, entries.Insert(ctx, &models.PersistedEntry{VaultID: a.ID, Sequence: 4, EntryID: "e1"}), common.ErrorAlreadyExists)

	list, err := entries.ListAfter(ctx, a.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].Sequence)

	require.NoError(t, vaults.AdvanceSequence(ctx, a.ID, 3, 30))
	got, err := vaults.Get(ctx, "n1", "u1", "pkA")
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.CurrentSequence)
	assert.EqualValues(t, 30, got.UsedStorageSize)

	require.NoError(t, vaults.Delete(ctx, a.ID))
	list, err = entries.ListAfter(ctx, a.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWorkflows_CompareAndSwap(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	repo := m.Workflows(nil)
	now := time.Now()

	w := &models.DestroyWorkflow{InstanceID: "i1", Status: models.WorkflowScheduled, DeleteAfter: now.Add(-time.Minute), UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, w))

	due, err := repo.ListDue(ctx, now, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := repo.Claim(ctx, "i1", models.WorkflowScheduled, now, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(ctx, "i1", models.WorkflowScheduled, models.WorkflowTerminated, now)
	require.NoError(t, err)
	assert.False(t, ok, "a claimed instance can no longer be terminated")

	ok, err = repo.Transition(ctx, "i1", models.WorkflowRunning, models.WorkflowExecuted, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecuted, got.Status)
}
