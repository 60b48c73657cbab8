package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

// Tier holds subscription-derived limits. Zero means unlimited.
type Tier struct {
	Name            string
	MaxDevices      int64
	MaxStorageBytes int64
	MaxVaults       int64
}

var (
	Basic = Tier{Name: models.SubscriptionBasic, MaxDevices: 2, MaxStorageBytes: 50 << 20, MaxVaults: 4}
	Pro   = Tier{Name: models.SubscriptionPro, MaxDevices: 10, MaxStorageBytes: 5 << 30, MaxVaults: 40}
)

// TierFor maps a subscription name to its tier. Unknown names get Basic.
func TierFor(subscription string) Tier {
	if subscription == models.SubscriptionPro {
		return Pro
	}
	return Basic
}

// TierResolver supplies the tier of a user.
type TierResolver interface {
	Resolve(ctx context.Context, userID string) (Tier, error)
}

// SubscriptionLookup is satisfied by the users repository.
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, userID string) (string, error)
}

// SubscriptionResolver resolves tiers from the stored subscription.
type SubscriptionResolver struct {
	lookup SubscriptionLookup
}

func NewSubscriptionResolver(l SubscriptionLookup) *SubscriptionResolver {
	return &SubscriptionResolver{lookup: l}
}

func (r *SubscriptionResolver) Resolve(ctx context.Context, userID string) (Tier, error) {
	sub, err := r.lookup.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return Tier{}, common.ErrorUnauthorized
		}
		return Tier{}, fmt.Errorf("resolve tier: %w", err)
	}
	return TierFor(sub), nil
}

// StaticResolver returns the same tier for everyone.
type StaticResolver Tier

func (s StaticResolver) Resolve(context.Context, string) (Tier, error) {
	return Tier(s), nil
}
