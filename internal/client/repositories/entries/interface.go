package entries

import (
	"context"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
)

// Repository is the append-only local journal. Rows are never updated
// except for the pushed flag.
type Repository interface {
	// Append stores a locally created entry, assigning EntryID (UUIDv4) and
	// CreatedAt when empty, and LocalSeq.
	Append(ctx context.Context, entry *models.Entry) error

	Has(ctx context.Context, entryID string) (bool, error)

	// Get returns common.ErrorNotFound when the entry is absent.
	Get(ctx context.Context, entryID string) (*models.Entry, error)

	// List returns up to limit entries with LocalSeq > after, oldest first.
	List(ctx context.Context, after int64, limit int) ([]*models.Entry, error)

	// Pending returns local entries not yet acknowledged by the server.
	Pending(ctx context.Context, limit int) ([]*models.Entry, error)

	MarkPushed(ctx context.Context, entryIDs []string) error

	// ApplyRemote inserts an entry received from the server unless an entry
	// with the same id exists. It reports whether the entry was new.
	ApplyRemote(ctx context.Context, entry *models.Entry, sequence int64) (bool, error)
}
