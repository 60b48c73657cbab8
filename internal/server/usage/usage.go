// Package usage validates device count, vault count and storage bytes
// against a subscription tier.
package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

// Code is the stable numeric reason of a failed check. It doubles as the
// close code on the realtime channel.
type Code int

const (
	CodeDeviceLimit  Code = 4001
	CodeVaultLimit   Code = 4002
	CodeStorageLimit Code = 4003
)

func (c Code) String() string {
	switch c {
	case CodeDeviceLimit:
		return "device limit"
	case CodeVaultLimit:
		return "vault limit"
	case CodeStorageLimit:
		return "storage limit"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}

// UsageCheckError reports which limit was hit and by how much.
type UsageCheckError struct {
	Code    Code
	Limit   int64
	Current int64
}

func (e *UsageCheckError) Error() string {
	return fmt.Sprintf("%s exceeded: %d > %d", e.Code, e.Current, e.Limit)
}

// AsUsageCheckError unwraps err to a *UsageCheckError if it holds one.
func AsUsageCheckError(err error) (*UsageCheckError, bool) {
	var ue *UsageCheckError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Check fails when next, the value after the pending change, exceeds limit.
// A non-positive limit means unlimited.
func Check(code Code, limit, next int64) error {
	if limit > 0 && next > limit {
		return &UsageCheckError{Code: code, Limit: limit, Current: next}
	}
	return nil
}

// Counter is the storage view the checks need.
type Counter interface {
	GetDeviceCount(ctx context.Context, userID string) (int64, error)
	GetVaultCount(ctx context.Context, userID string) (int64, error)
	GetSyncStats(ctx context.Context, key models.VaultKey) (*models.SyncStats, bool, error)
}

// Checker runs the quota checks against live counts.
type Checker struct {
	counter Counter
}

func NewChecker(c Counter) *Checker {
	return &Checker{counter: c}
}

// CheckDeviceCount fails if adding more devices would exceed the tier.
func (c *Checker) CheckDeviceCount(ctx context.Context, tier Tier, userID string, adding int64) error {
	n, err := c.counter.GetDeviceCount(ctx, userID)
	if err != nil {
		return err
	}
	return Check(CodeDeviceLimit, tier.MaxDevices, n+adding)
}

// CheckVaultCount fails if adding more vaults would exceed the tier.
func (c *Checker) CheckVaultCount(ctx context.Context, tier Tier, userID string, adding int64) error {
	n, err := c.counter.GetVaultCount(ctx, userID)
	if err != nil {
		return err
	}
	return Check(CodeVaultLimit, tier.MaxVaults, n+adding)
}

// CheckStorageSize fails if adding bytes to the vault would exceed the tier.
// A missing vault is reported as common.ErrorNotFound.
func (c *Checker) CheckStorageSize(ctx context.Context, tier Tier, key models.VaultKey, adding int64) error {
	stats, ok, err := c.counter.GetSyncStats(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return Check(CodeStorageLimit, tier.MaxStorageBytes, stats.UsedStorageSize+adding)
}

// CheckRegistration runs the device and vault checks for a registration
// that introduces newDevices unseen device keys and newVaults vaults.
func (c *Checker) CheckRegistration(ctx context.Context, tier Tier, userID string, newDevices, newVaults int64) error {
	if newDevices > 0 {
		if err := c.CheckDeviceCount(ctx, tier, userID, newDevices); err != nil {
			return err
		}
	}
	if newVaults > 0 {
		if err := c.CheckVaultCount(ctx, tier, userID, newVaults); err != nil {
			return err
		}
	}
	return nil
}
