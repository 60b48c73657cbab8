// Package refreshtokens declares the repository for server-stored refresh
// tokens backing session rotation.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type Repository interface {
	// Create stores a new refresh token for userID valid until now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Consume deletes the token and returns what it was. A token can be
	// consumed once; a second attempt returns common.ErrorNotFound.
	Consume(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteExpired drops tokens that expired before t and reports how many.
	DeleteExpired(ctx context.Context, t time.Time) (int64, error)
}
