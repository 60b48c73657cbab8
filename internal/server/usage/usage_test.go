package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	devices int64
	vaults  int64
	used    int64
	missing bool
	err     error
}

func (f *fakeCounter) GetDeviceCount(context.Context, string) (int64, error) { return f.devices, f.err }
func (f *fakeCounter) GetVaultCount(context.Context, string) (int64, error)  { return f.vaults, f.err }
func (f *fakeCounter) GetSyncStats(context.Context, models.VaultKey) (*models.SyncStats, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.missing {
		return nil, false, nil
	}
	return &models.SyncStats{UsedStorageSize: f.used}, true, nil
}

var key = models.VaultKey{Namespace: "notes", UserID: "u1", PublicKey: "pk"}

func TestCheck(t *testing.T) {
	require.NoError(t, Check(CodeDeviceLimit, 2, 2))
	require.NoError(t, Check(CodeDeviceLimit, 0, 1000), "zero limit is unlimited")

	err := Check(CodeDeviceLimit, 2, 3)
	ue, ok := AsUsageCheckError(err)
	require.True(t, ok)
	assert.Equal(t, CodeDeviceLimit, ue.Code)
	assert.Equal(t, int64(2), ue.Limit)
	assert.Equal(t, int64(3), ue.Current)
	assert.Equal(t, "device limit exceeded: 3 > 2", err.Error())
}

func TestCheckDeviceCount_SecondDeviceRejectedOnSingleDeviceTier(t *testing.T) {
	c := NewChecker(&fakeCounter{devices: 1})
	tier := Tier{MaxDevices: 1}

	err := c.CheckDeviceCount(context.Background(), tier, "u1", 1)
	ue, ok := AsUsageCheckError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, CodeDeviceLimit, ue.Code)

	require.NoError(t, NewChecker(&fakeCounter{devices: 0}).CheckDeviceCount(context.Background(), tier, "u1", 1))
}

func TestCheckVaultCount_UsesVaultCountNotDeviceCount(t *testing.T) {
	c := NewChecker(&fakeCounter{devices: 1, vaults: 3})

	require.NoError(t, c.CheckDeviceCount(context.Background(), Tier{MaxDevices: 2, MaxVaults: 3}, "u1", 1))

	err := c.CheckVaultCount(context.Background(), Tier{MaxDevices: 2, MaxVaults: 3}, "u1", 1)
	ue, ok := AsUsageCheckError(err)
	require.True(t, ok)
	assert.Equal(t, CodeVaultLimit, ue.Code)
}

func TestCheckStorageSize(t *testing.T) {
	tier := Tier{MaxStorageBytes: 100}

	require.NoError(t, NewChecker(&fakeCounter{used: 60}).CheckStorageSize(context.Background(), tier, key, 40))

	err := NewChecker(&fakeCounter{used: 60}).CheckStorageSize(context.Background(), tier, key, 41)
	ue, ok := AsUsageCheckError(err)
	require.True(t, ok)
	assert.Equal(t, CodeStorageLimit, ue.Code)

	err = NewChecker(&fakeCounter{missing: true}).CheckStorageSize(context.Background(), tier, key, 1)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCheckRegistration(t *testing.T) {
	tier := Tier{MaxDevices: 2, MaxVaults: 2}

	require.NoError(t, NewChecker(&fakeCounter{devices: 2, vaults: 2}).CheckRegistration(context.Background(), tier, "u1", 0, 0),
		"nothing new, nothing to check")

	err := NewChecker(&fakeCounter{devices: 1, vaults: 2}).CheckRegistration(context.Background(), tier, "u1", 1, 1)
	ue, ok := AsUsageCheckError(err)
	require.True(t, ok)
	assert.Equal(t, CodeVaultLimit, ue.Code)

	boom := errors.New("boom")
	err = NewChecker(&fakeCounter{err: boom}).CheckRegistration(context.Background(), tier, "u1", 1, 0)
	require.ErrorIs(t, err, boom)
}
