// Package users declares the server-side repository for accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	// GetSubscription returns the subscription name stored for userID.
	GetSubscription(ctx context.Context, userID string) (string, error)
}
