package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/servertest"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
)

func rosterKeys(r []*models.SyncInfo) []string {
	out := make([]string, 0, len(r))
	for _, i := range r {
		out = append(out, i.PublicKey)
	}
	return out
}

func TestVaultService_PeerRosterDoesNotCancelDestroy(t *testing.T) {
	st := servertest.New(t)
	userID, _ := st.SignUp(t, "alice")
	ctx := context.Background()
	both := []services.RegisterItem{{PublicKey: "pkA"}, {PublicKey: "pkB"}}
	keyB := models.VaultKey{Namespace: "notes", UserID: userID, PublicKey: "pkB"}

	_, err := st.Vaults.Register(ctx, "notes", userID, "pkA", both)
	require.NoError(t, err)

	w, err := st.Vaults.Destroy(ctx, keyB)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowScheduled, w.Status)

	// A still lists B in its local roster
	_, err = st.Vaults.Register(ctx, "notes", userID, "pkA", both)
	require.NoError(t, err)

	w, ok, err := st.Workflows.Get(ctx, keyB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowScheduled, w.Status)
}

func TestVaultService_DestroyedPeerIsNotRecreated(t *testing.T) {
	st := servertest.New(t)
	userID, _ := st.SignUp(t, "alice")
	ctx := context.Background()
	both := []services.RegisterItem{{PublicKey: "pkA"}, {PublicKey: "pkB"}}
	keyB := models.VaultKey{Namespace: "notes", UserID: userID, PublicKey: "pkB"}

	_, err := st.Vaults.Register(ctx, "notes", userID, "pkA", both)
	require.NoError(t, err)
	w, err := st.Vaults.Destroy(ctx, keyB)
	require.NoError(t, err)

	// run the destruction without waiting out the grace period
	repo := st.Repos.Workflows(st.DB)
	now := time.Now()
	ok, err := repo.Claim(ctx, w.InstanceID, models.WorkflowScheduled, w.UpdatedAt, now)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = st.Storage.Destroy(ctx, keyB)
	require.NoError(t, err)
	ok, err = repo.Transition(ctx, w.InstanceID, models.WorkflowRunning, models.WorkflowExecuted, now)
	require.NoError(t, err)
	require.True(t, ok)

	roster, err := st.Vaults.Register(ctx, "notes", userID, "pkA", both)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkA"}, rosterKeys(roster))
	_, found, err := st.Storage.GetSyncInfo(ctx, keyB)
	require.NoError(t, err)
	assert.False(t, found)

	// B registering itself brings the vault back
	roster, err = st.Vaults.Register(ctx, "notes", userID, "pkB", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkA", "pkB"}, rosterKeys(roster))
}

func TestVaultService_SelfRegisterCancelsDestroy(t *testing.T) {
	st := servertest.New(t)
	userID, _ := st.SignUp(t, "alice")
	ctx := context.Background()
	keyB := models.VaultKey{Namespace: "notes", UserID: userID, PublicKey: "pkB"}

	_, err := st.Vaults.Register(ctx, "notes", userID, "pkB", nil)
	require.NoError(t, err)
	_, err = st.Vaults.Destroy(ctx, keyB)
	require.NoError(t, err)

	_, err = st.Vaults.Register(ctx, "notes", userID, "pkB", nil)
	require.NoError(t, err)

	w, ok, err := st.Workflows.Get(ctx, keyB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowTerminated, w.Status)
}
