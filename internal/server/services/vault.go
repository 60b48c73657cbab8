package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/storage"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
)

// VaultStore is the storage view VaultService needs.
type VaultStore interface {
	Roster(ctx context.Context, namespace, userID string) ([]*models.SyncInfo, error)
	KnownDevice(ctx context.Context, userID, publicKey string) (bool, error)
	GetSyncInfo(ctx context.Context, key models.VaultKey) (*models.SyncInfo, bool, error)
	Create(ctx context.Context, key models.VaultKey, note string, tier usage.Tier) (*models.SyncInfo, bool, error)
	Update(ctx context.Context, key models.VaultKey, note string) (bool, error)
}

// DestroyWorkflows is the deferred deletion engine.
type DestroyWorkflows interface {
	Destroy(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error)
	Access(ctx context.Context, key models.VaultKey) (bool, error)
	Get(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, bool, error)
}

var ErrWorkflowNotFound = fmt.Errorf("destroy workflow %w", common.ErrorNotFound)

// RegisterItem is one device key a client wants registered.
type RegisterItem struct {
	PublicKey string    `json:"publicKey"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VaultService backs the vault HTTP API: registration, stats, notes and
// deferred destruction.
type VaultService struct {
	store     VaultStore
	workflows DestroyWorkflows
	tiers     usage.TierResolver
	checker   *usage.Checker
	logger    logging.Logger
}

func NewVaultService(store VaultStore, counter usage.Counter, workflows DestroyWorkflows, tiers usage.TierResolver, logger logging.Logger) *VaultService {
	return &VaultService{
		store:     store,
		workflows: workflows,
		tiers:     tiers,
		checker:   usage.NewChecker(counter),
		logger:    logger.With("module", "vaults"),
	}
}

// Register creates vaults for unseen keys and pushes newer notes. self is
// the calling device: only its pending destruction is cancelled, since a
// peer listed in someone else's roster is not being used. A peer whose vault
// was already destroyed is not created again and drops out of the roster;
// it comes back when that device registers itself. Quotas are checked for
// the whole batch before anything is created. It returns the namespace
// roster.
func (s *VaultService) Register(ctx context.Context, namespace, userID, self string, items []RegisterItem) ([]*models.SyncInfo, error) {
	if namespace == "" {
		return nil, common.ErrorBadRequest
	}
	for _, it := range items {
		if it.PublicKey == "" {
			return nil, common.ErrorBadRequest
		}
	}
	if self != "" && !listed(items, self) {
		items = append(items, RegisterItem{PublicKey: self})
	}

	tier, err := s.tiers.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.Roster(ctx, namespace, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*models.SyncInfo, len(roster))
	for _, r := range roster {
		known[r.PublicKey] = r
	}

	var newDevices, newVaults int64
	create := make(map[string]bool)
	for _, it := range items {
		if known[it.PublicKey] != nil || create[it.PublicKey] {
			continue
		}
		if it.PublicKey != self {
			gone, err := s.destroyed(ctx, models.VaultKey{Namespace: namespace, UserID: userID, PublicKey: it.PublicKey})
			if err != nil {
				return nil, err
			}
			if gone {
				continue
			}
		}
		create[it.PublicKey] = true
		newVaults++
		ok, err := s.store.KnownDevice(ctx, userID, it.PublicKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			newDevices++
		}
	}
	if err := s.checker.CheckRegistration(ctx, tier, userID, newDevices, newVaults); err != nil {
		return nil, err
	}

	for _, it := range items {
		key := models.VaultKey{Namespace: namespace, UserID: userID, PublicKey: it.PublicKey}

		if existing := known[it.PublicKey]; existing != nil {
			if it.Note != existing.Note && it.UpdatedAt.After(existing.UpdatedAt) {
				if _, err := s.store.Update(ctx, key, it.Note); err != nil {
					return nil, err
				}
			}
		} else if create[it.PublicKey] {
			info, _, err := s.store.Create(ctx, key, it.Note, tier)
			if err != nil {
				return nil, err
			}
			known[it.PublicKey] = info
		}
	}

	if self != "" {
		key := models.VaultKey{Namespace: namespace, UserID: userID, PublicKey: self}
		if _, err := s.workflows.Access(ctx, key); err != nil {
			return nil, err
		}
	}

	roster, err = s.store.Roster(ctx, namespace, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range roster {
		r.MaxStorageSize = tier.MaxStorageBytes
	}
	return roster, nil
}

func listed(items []RegisterItem, publicKey string) bool {
	for _, it := range items {
		if it.PublicKey == publicKey {
			return true
		}
	}
	return false
}

// destroyed reports whether a destruction of key already ran or is running.
func (s *VaultService) destroyed(ctx context.Context, key models.VaultKey) (bool, error) {
	w, ok, err := s.workflows.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return w.Status == models.WorkflowExecuted || w.Status == models.WorkflowRunning, nil
}

// Stats returns the usage of a vault with the owner's storage limit.
func (s *VaultService) Stats(ctx context.Context, key models.VaultKey) (*models.SyncStats, error) {
	info, ok, err := s.store.GetSyncInfo(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrVaultNotFound
	}
	tier, err := s.tiers.Resolve(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	stats := info.SyncStats
	stats.MaxStorageSize = tier.MaxStorageBytes
	return &stats, nil
}

func (s *VaultService) UpdateNote(ctx context.Context, key models.VaultKey, note string) error {
	ok, err := s.store.Update(ctx, key, note)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrVaultNotFound
	}
	return nil
}

// Destroy schedules the vault for deletion after the grace period.
func (s *VaultService) Destroy(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error) {
	_, ok, err := s.store.GetSyncInfo(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrVaultNotFound
	}
	return s.workflows.Destroy(ctx, key)
}

// DestroyStatus returns the deletion workflow of a vault, if there is one.
func (s *VaultService) DestroyStatus(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error) {
	w, ok, err := s.workflows.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return w, nil
}
