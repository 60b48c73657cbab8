// Package workflows persists destroy-vault workflow instances.
package workflows

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, instanceID string) (*models.DestroyWorkflow, error)
	// Create inserts a new instance; an existing one yields
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, w *models.DestroyWorkflow) error
	// Transition moves an instance from one status to another only if it is
	// still in from. It reports whether the swap happened.
	Transition(ctx context.Context, instanceID, from, to string, now time.Time) (bool, error)
	// Reschedule is Transition to scheduled with a new deadline.
	Reschedule(ctx context.Context, instanceID, from string, deleteAfter, now time.Time) (bool, error)
	// Claim moves an instance to running if it still has the given status
	// and updated_at, so concurrent schedulers claim it at most once.
	Claim(ctx context.Context, instanceID, status string, updatedAt, now time.Time) (bool, error)
	// ListDue returns scheduled instances whose deadline passed, plus
	// running ones not touched since staleBefore.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.DestroyWorkflow, error)
}
