package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type vaultRepo struct{ s *store }

func (r *vaultRepo) find(namespace, userID, publicKey string) *models.Vault {
	for _, v := range r.s.vaults {
		if v.Namespace == namespace && v.UserID == userID && v.PublicKey == publicKey {
			return v
		}
	}
	return nil
}

func copyVault(v *models.Vault) *models.Vault {
	cp := *v
	if v.LastSyncAt != nil {
		t := *v.LastSyncAt
		cp.LastSyncAt = &t
	}
	return &cp
}

func (r *vaultRepo) Get(_ context.Context, namespace, userID, publicKey string) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v := r.find(namespace, userID, publicKey)
	if v == nil {
		return nil, common.ErrorNotFound
	}
	return copyVault(v), nil
}

func (r *vaultRepo) GetForUpdate(ctx context.Context, namespace, userID, publicKey string) (*models.Vault, error) {
	return r.Get(ctx, namespace, userID, publicKey)
}

func (r *vaultRepo) Create(_ context.Context, v *models.Vault) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.find(v.Namespace, v.UserID, v.PublicKey) != nil {
		return nil, common.ErrorAlreadyExists
	}
	now := time.Now()
	v.ID = r.s.nextID("vault")
	v.CreatedAt, v.UpdatedAt = now, now
	r.s.vaults[v.ID] = copyVault(v)
	return v, nil
}

func (r *vaultRepo) update(id string, fn func(v *models.Vault)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.vaults[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(v)
	return nil
}

func (r *vaultRepo) UpdateNote(_ context.Context, id, note string) error {
	return r.update(id, func(v *models.Vault) {
		v.Note = note
		v.UpdatedAt = time.Now()
	})
}

func (r *vaultRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.vaults[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.vaults, id)
	delete(r.s.entries, id)
	return nil
}

func (r *vaultRepo) AdvanceSequence(_ context.Context, id string, sequence, addedBytes int64) error {
	return r.update(id, func(v *models.Vault) {
		v.CurrentSequence = sequence
		v.UsedStorageSize += addedBytes
		v.UpdatedAt = time.Now()
	})
}

func (r *vaultRepo) RecordSync(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(v *models.Vault) {
		v.SyncCount++
		v.LastSyncAt = &at
	})
}

func (r *vaultRepo) LockUser(context.Context, string) error { return nil }

func (r *vaultRepo) HasDevice(_ context.Context, userID, publicKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, v := range r.s.vaults {
		if v.UserID == userID && v.PublicKey == publicKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *vaultRepo) List(_ context.Context, namespace, userID string) ([]*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Vault
	for _, v := range r.s.vaults {
		if v.Namespace == namespace && v.UserID == userID {
			out = append(out, copyVault(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *vaultRepo) count(match func(v *models.Vault) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, v := range r.s.vaults {
		if match(v) {
			n++
		}
	}
	return n
}

func (r *vaultRepo) CountByNamespace(_ context.Context, namespace, userID string) (int64, error) {
	return r.count(func(v *models.Vault) bool { return v.Namespace == namespace && v.UserID == userID }), nil
}

func (r *vaultRepo) CountByUser(_ context.Context, userID string) (int64, error) {
	return r.count(func(v *models.Vault) bool { return v.UserID == userID }), nil
}

func (r *vaultRepo) CountDevicesByUser(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	keys := make(map[string]struct{})
	for _, v := range r.s.vaults {
		if v.UserID == userID {
			keys[v.PublicKey] = struct{}{}
		}
	}
	return int64(len(keys)), nil
}
