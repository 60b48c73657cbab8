// Package vaults declares the repository for server-side vault rows.
package vaults

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

// Repository is keyed by (namespace, userID, publicKey); lookups that find
// nothing return common.ErrorNotFound.
type Repository interface {
	Get(ctx context.Context, namespace, userID, publicKey string) (*models.Vault, error)
	// GetForUpdate is Get with a row lock held until the enclosing
	// transaction ends. It serialises sequence assignment per vault.
	GetForUpdate(ctx context.Context, namespace, userID, publicKey string) (*models.Vault, error)
	Create(ctx context.Context, v *models.Vault) (*models.Vault, error)
	UpdateNote(ctx context.Context, id, note string) error
	Delete(ctx context.Context, id string) error

	// AdvanceSequence stores the new head sequence and grows the usage
	// counter by addedBytes.
	AdvanceSequence(ctx context.Context, id string, sequence, addedBytes int64) error
	// RecordSync bumps the sync counter and last sync time of a writer.
	RecordSync(ctx context.Context, id string, at time.Time) error

	// LockUser takes a transaction-scoped lock on userID so quota checks
	// and vault creation for one user do not interleave.
	LockUser(ctx context.Context, userID string) error
	// HasDevice reports whether publicKey has a vault in any namespace.
	HasDevice(ctx context.Context, userID, publicKey string) (bool, error)

	List(ctx context.Context, namespace, userID string) ([]*models.Vault, error)
	CountByNamespace(ctx context.Context, namespace, userID string) (int64, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	CountDevicesByUser(ctx context.Context, userID string) (int64, error)
}
