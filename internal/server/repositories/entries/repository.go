// Package entries stores the per-vault stream of encrypted entries.
package entries

import (
	"context"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type Repository interface {
	// Exists reports whether entryID is already present in the vault stream.
	Exists(ctx context.Context, vaultID, entryID string) (bool, error)
	Insert(ctx context.Context, e *models.PersistedEntry) error
	// ListAfter returns up to limit entries with sequence > after in
	// ascending sequence order.
	ListAfter(ctx context.Context, vaultID string, after int64, limit int) ([]*models.PersistedEntry, error)
	// BlobKeys lists object storage keys of offloaded ciphertexts.
	BlobKeys(ctx context.Context, vaultID string) ([]string, error)
}
