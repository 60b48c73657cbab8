package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	sub string
	err error
}

func (f fakeLookup) GetSubscription(context.Context, string) (string, error) { return f.sub, f.err }

func TestTierFor(t *testing.T) {
	assert.Equal(t, Pro, TierFor("pro"))
	assert.Equal(t, Basic, TierFor("basic"))
	assert.Equal(t, Basic, TierFor("something-else"))
	assert.Less(t, Basic.MaxStorageBytes, Pro.MaxStorageBytes)
}

func TestSubscriptionResolver(t *testing.T) {
	tier, err := NewSubscriptionResolver(fakeLookup{sub: "pro"}).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Pro, tier)

	_, err = NewSubscriptionResolver(fakeLookup{err: common.ErrorNotFound}).Resolve(context.Background(), "u1")
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	boom := errors.New("boom")
	_, err = NewSubscriptionResolver(fakeLookup{err: boom}).Resolve(context.Background(), "u1")
	require.ErrorIs(t, err, boom)
}

func TestStaticResolver(t *testing.T) {
	tier, err := StaticResolver(Tier{MaxDevices: 1}).Resolve(context.Background(), "anyone")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tier.MaxDevices)
}
