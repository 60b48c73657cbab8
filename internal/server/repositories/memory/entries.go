package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type entryRepo struct{ s *store }

func (r *entryRepo) Exists(_ context.Context, vaultID, entryID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.entries[vaultID] {
		if e.EntryID == entryID {
			return true, nil
		}
	}
	return false, nil
}

func (r *entryRepo) Insert(_ context.Context, e *models.PersistedEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, x := range r.s.entries[e.VaultID] {
		if x.EntryID == e.EntryID || x.Sequence == e.Sequence {
			return common.ErrorAlreadyExists
		}
	}
	cp := *e
	cp.CreatedAt = time.Now()
	r.s.entries[e.VaultID] = append(r.s.entries[e.VaultID], &cp)
	return nil
}

// ListAfter relies on inserts arriving in sequence order, which the
// storage layer guarantees per vault.
func (r *entryRepo) ListAfter(_ context.Context, vaultID string, after int64, limit int) ([]*models.PersistedEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.PersistedEntry
	for _, e := range r.s.entries[vaultID] {
		if e.Sequence <= after {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *entryRepo) BlobKeys(_ context.Context, vaultID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var keys []string
	for _, e := range r.s.entries[vaultID] {
		if e.BlobKey != "" {
			keys = append(keys, e.BlobKey)
		}
	}
	return keys, nil
}
