// Package devices persists the local copy of the namespace device roster.
package devices

import (
	"context"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
)

type Repository interface {
	// Upsert inserts or fully replaces a device row.
	Upsert(ctx context.Context, d *models.Device) error
	// Get returns common.ErrorNotFound when the device is unknown.
	Get(ctx context.Context, publicKey string) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	Delete(ctx context.Context, publicKey string) error
	Clear(ctx context.Context) error
}
