// Package storage is the server-side vault store: per (namespace, user,
// device) streams of encrypted entries plus usage statistics. Every failure
// of the backing store surfaces as *StorageAccessError; absence of a vault
// is reported through a boolean, not an error.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
)

// Key addresses one vault.
type Key = models.VaultKey

// ErrVaultNotFound is returned by operations that need an existing vault.
var ErrVaultNotFound = fmt.Errorf("vault %w", common.ErrorNotFound)

// StorageAccessError wraps any failure of the backing store.
type StorageAccessError struct {
	Message string
	Cause   error
}

func (e *StorageAccessError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *StorageAccessError) Unwrap() error { return e.Cause }

func accessError(msg string, err error) error {
	var se *StorageAccessError
	if errors.As(err, &se) {
		return err
	}
	return &StorageAccessError{Message: msg, Cause: err}
}

// AppendResult describes the outcome of Append.
type AppendResult struct {
	// Accepted holds the newly persisted entries with their sequence numbers.
	Accepted []*models.PersistedEntry
	// Skipped lists entry ids that were already in the stream.
	Skipped []string
	// Head is the vault's last sequence after the append.
	Head int64
}

type Option func(*Service)

// WithBlobStore enables offloading ciphertexts of at least threshold bytes.
// A non-positive threshold keeps everything in the database.
func WithBlobStore(b BlobStore, threshold int64) Option {
	return func(s *Service) {
		s.blobs = b
		s.offloadThreshold = threshold
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	db               *sql.DB
	repomanager      repomanager.RepositoryManager
	blobs            BlobStore
	offloadThreshold int64
	logger           logging.Logger
	now              func() time.Time
}

func NewService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "storage"),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lookup returns the vault or nil when it does not exist.
func (s *Service) lookup(ctx context.Context, db dbx.DBTX, key Key) (*models.Vault, error) {
	v, err := s.repomanager.Vaults(db).Get(ctx, key.Namespace, key.UserID, key.PublicKey)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, accessError("get vault", err)
	}
	return v, nil
}

func syncInfo(v *models.Vault) *models.SyncInfo {
	return &models.SyncInfo{
		SyncStats: models.SyncStats{
			SyncCount:       v.SyncCount,
			LastSyncAt:      v.LastSyncAt,
			UsedStorageSize: v.UsedStorageSize,
		},
		PublicKey: v.PublicKey,
		Note:      v.Note,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

// GetSyncClientCount returns the number of vaults the user has in namespace.
func (s *Service) GetSyncClientCount(ctx context.Context, namespace, userID string) (int64, error) {
	n, err := s.repomanager.Vaults(s.db).CountByNamespace(ctx, namespace, userID)
	if err != nil {
		return 0, accessError("count sync clients", err)
	}
	return n, nil
}

// GetDeviceCount returns the number of distinct device keys of the user
// across all namespaces.
func (s *Service) GetDeviceCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.Vaults(s.db).CountDevicesByUser(ctx, userID)
	if err != nil {
		return 0, accessError("count devices", err)
	}
	return n, nil
}

// GetVaultCount returns the number of vaults of the user across all
// namespaces.
func (s *Service) GetVaultCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.Vaults(s.db).CountByUser(ctx, userID)
	if err != nil {
		return 0, accessError("count vaults", err)
	}
	return n, nil
}

// KnownDevice reports whether publicKey already has a vault of the user in
// any namespace.
func (s *Service) KnownDevice(ctx context.Context, userID, publicKey string) (bool, error) {
	ok, err := s.repomanager.Vaults(s.db).HasDevice(ctx, userID, publicKey)
	if err != nil {
		return false, accessError("lookup device", err)
	}
	return ok, nil
}

func (s *Service) GetSyncStats(ctx context.Context, key Key) (*models.SyncStats, bool, error) {
	info, ok, err := s.GetSyncInfo(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &info.SyncStats, true, nil
}

func (s *Service) GetSyncInfo(ctx context.Context, key Key) (*models.SyncInfo, bool, error) {
	v, err := s.lookup(ctx, s.db, key)
	if err != nil || v == nil {
		return nil, false, err
	}
	return syncInfo(v), true, nil
}

// Head returns the last sequence number of the vault stream.
func (s *Service) Head(ctx context.Context, key Key) (int64, bool, error) {
	v, err := s.lookup(ctx, s.db, key)
	if err != nil || v == nil {
		return 0, false, err
	}
	return v.CurrentSequence, true, nil
}

// Roster lists every vault of the user in namespace.
func (s *Service) Roster(ctx context.Context, namespace, userID string) ([]*models.SyncInfo, error) {
	vs, err := s.repomanager.Vaults(s.db).List(ctx, namespace, userID)
	if err != nil {
		return nil, accessError("list vaults", err)
	}
	out := make([]*models.SyncInfo, 0, len(vs))
	for _, v := range vs {
		out = append(out, syncInfo(v))
	}
	return out, nil
}

// Create registers a vault for key. Device and vault limits of tier are
// checked under a per-user lock, so concurrent registrations cannot both
// slip under a limit. An existing vault is returned with created=false.
func (s *Service) Create(ctx context.Context, key Key, note string, tier usage.Tier) (info *models.SyncInfo, created bool, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Vaults(tx)

		if err := repo.LockUser(ctx, key.UserID); err != nil {
			return accessError("lock user", err)
		}

		existing, err := s.lookup(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			info = syncInfo(existing)
			return nil
		}

		known, err := repo.HasDevice(ctx, key.UserID, key.PublicKey)
		if err != nil {
			return accessError("lookup device", err)
		}
		if !known {
			devices, err := repo.CountDevicesByUser(ctx, key.UserID)
			if err != nil {
				return accessError("count devices", err)
			}
			if err := usage.Check(usage.CodeDeviceLimit, tier.MaxDevices, devices+1); err != nil {
				return err
			}
		}

		vaults, err := repo.CountByUser(ctx, key.UserID)
		if err != nil {
			return accessError("count vaults", err)
		}
		if err := usage.Check(usage.CodeVaultLimit, tier.MaxVaults, vaults+1); err != nil {
			return err
		}

		v, err := repo.Create(ctx, &models.Vault{
			Namespace: key.Namespace,
			UserID:    key.UserID,
			PublicKey: key.PublicKey,
			Note:      note,
		})
		if err != nil {
			return accessError("create vault", err)
		}
		info, created = syncInfo(v), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info(ctx, "vault created", "user", key.UserID, "device", cryptox.PublicKeyHash(key.PublicKey))
	}
	return info, created, nil
}

// Update changes the note of a vault. It reports false if there is none.
func (s *Service) Update(ctx context.Context, key Key, note string) (bool, error) {
	v, err := s.lookup(ctx, s.db, key)
	if err != nil || v == nil {
		return false, err
	}
	err = s.repomanager.Vaults(s.db).UpdateNote(ctx, v.ID, note)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, accessError("update vault", err)
	}
	return true, nil
}

// Destroy hard-deletes the vault and its entries. Offloaded blobs are
// removed after the rows are gone; a failed blob delete only leaves an
// orphan object behind and is logged.
func (s *Service) Destroy(ctx context.Context, key Key) (bool, error) {
	var blobKeys []string
	found := false

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		v, err := s.lookup(ctx, tx, key)
		if err != nil || v == nil {
			return err
		}
		found = true

		if blobKeys, err = s.repomanager.Entries(tx).BlobKeys(ctx, v.ID); err != nil {
			return accessError("list blobs", err)
		}
		if err := s.repomanager.Vaults(tx).Delete(ctx, v.ID); err != nil {
			return accessError("delete vault", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.deleteBlobs(ctx, blobKeys)
	if found {
		s.logger.Info(ctx, "vault destroyed", "user", key.UserID, "device", cryptox.PublicKeyHash(key.PublicKey))
	}
	return found, nil
}

func (s *Service) deleteBlobs(ctx context.Context, keys []string) {
	if s.blobs == nil {
		return
	}
	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.logger.Warn(ctx, "blob delete failed", "key", k, "err", err)
		}
	}
}

// BlobKey is the object key of an offloaded entry.
func BlobKey(key Key, entryID string) string {
	return fmt.Sprintf("vaults/%s/%s/%s/%s",
		cryptox.HashHex([]byte(key.Namespace)), key.UserID, cryptox.PublicKeyHash(key.PublicKey), entryID)
}

func entrySize(e *models.PersistedEntry) int64 {
	return int64(len(e.IV) + len(e.EncryptedEntry) + len(e.EncryptedDEK))
}

// Append adds entries to the vault stream. The vault row is locked for the
// duration of the transaction; entries whose id is already present, or
// repeated within the batch, are skipped. New entries get consecutive
// sequence numbers after the current head. The storage limit is checked
// against maxStorage before anything is written.
func (s *Service) Append(ctx context.Context, key Key, entries []*models.PersistedEntry, maxStorage int64) (*AppendResult, error) {
	out, err := s.AppendAll(ctx, []Batch{{Key: key, Entries: entries}}, maxStorage)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Batch is the part of a fan-out write addressed to one vault.
type Batch struct {
	Key     Key
	Entries []*models.PersistedEntry
}

type appendPlan struct {
	key   Key
	vault *models.Vault
	fresh []*models.PersistedEntry
	added int64
	res   *AppendResult
}

// AppendAll is Append over several vaults in one transaction. Rows are
// locked in batch order and every vault is deduplicated and checked against
// maxStorage before the first insert: one vault over its limit fails the
// whole call with no stream written. Results are in batch order.
func (s *Service) AppendAll(ctx context.Context, batches []Batch, maxStorage int64) ([]*AppendResult, error) {
	var uploaded []string
	var out []*AppendResult

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		plans := make([]*appendPlan, 0, len(batches))
		for _, b := range batches {
			p, err := s.plan(ctx, tx, b, maxStorage)
			if err != nil {
				return err
			}
			plans = append(plans, p)
		}

		out = make([]*AppendResult, 0, len(plans))
		for _, p := range plans {
			keys, err := s.persist(ctx, tx, p)
			uploaded = append(uploaded, keys...)
			if err != nil {
				return err
			}
			out = append(out, p.res)
		}
		return nil
	})
	if err != nil {
		s.deleteBlobs(context.WithoutCancel(ctx), uploaded)
		return nil, err
	}
	return out, nil
}

// plan locks the vault and sorts b into fresh and skipped entries.
func (s *Service) plan(ctx context.Context, tx dbx.DBTX, b Batch, maxStorage int64) (*appendPlan, error) {
	v, err := s.repomanager.Vaults(tx).GetForUpdate(ctx, b.Key.Namespace, b.Key.UserID, b.Key.PublicKey)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, accessError("lock vault", err)
	}

	entryRepo := s.repomanager.Entries(tx)
	p := &appendPlan{key: b.Key, vault: v, res: &AppendResult{Head: v.CurrentSequence}}
	seen := make(map[string]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if _, dup := seen[e.EntryID]; dup {
			p.res.Skipped = append(p.res.Skipped, e.EntryID)
			continue
		}
		seen[e.EntryID] = struct{}{}

		exists, err := entryRepo.Exists(ctx, v.ID, e.EntryID)
		if err != nil {
			return nil, accessError("lookup entry", err)
		}
		if exists {
			p.res.Skipped = append(p.res.Skipped, e.EntryID)
			continue
		}
		p.fresh = append(p.fresh, e)
		p.added += entrySize(e)
	}

	if len(p.fresh) > 0 {
		if err := usage.Check(usage.CodeStorageLimit, maxStorage, v.UsedStorageSize+p.added); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// persist writes the fresh entries of p and returns the blob keys it
// uploaded, also on failure.
func (s *Service) persist(ctx context.Context, tx dbx.DBTX, p *appendPlan) ([]string, error) {
	if len(p.fresh) == 0 {
		return nil, nil
	}
	entryRepo := s.repomanager.Entries(tx)
	var uploaded []string

	seq := p.vault.CurrentSequence
	for _, e := range p.fresh {
		seq++
		pe := &models.PersistedEntry{
			VaultID:        p.vault.ID,
			Sequence:       seq,
			EntryID:        e.EntryID,
			IV:             e.IV,
			EncryptedEntry: e.EncryptedEntry,
			EncryptedDEK:   e.EncryptedDEK,
			Size:           entrySize(e),
		}

		stored := *pe
		if s.blobs != nil && s.offloadThreshold > 0 && int64(len(e.EncryptedEntry)) >= s.offloadThreshold {
			stored.BlobKey = BlobKey(p.key, e.EntryID)
			if err := s.blobs.Put(ctx, stored.BlobKey, e.EncryptedEntry); err != nil {
				return uploaded, accessError("offload entry", err)
			}
			uploaded = append(uploaded, stored.BlobKey)
			stored.EncryptedEntry = nil
		}

		if err := entryRepo.Insert(ctx, &stored); err != nil {
			return uploaded, accessError("insert entry", err)
		}
		p.res.Accepted = append(p.res.Accepted, pe)
	}

	if err := s.repomanager.Vaults(tx).AdvanceSequence(ctx, p.vault.ID, seq, p.added); err != nil {
		return uploaded, accessError("advance sequence", err)
	}
	p.res.Head = seq
	return uploaded, nil
}

// Read returns up to limit entries with sequence greater than after, in
// ascending order, with offloaded ciphertexts fetched back.
func (s *Service) Read(ctx context.Context, key Key, after int64, limit int) ([]*models.PersistedEntry, bool, error) {
	v, err := s.lookup(ctx, s.db, key)
	if err != nil || v == nil {
		return nil, false, err
	}

	list, err := s.repomanager.Entries(s.db).ListAfter(ctx, v.ID, after, limit)
	if err != nil {
		return nil, true, accessError("list entries", err)
	}

	for _, e := range list {
		if e.BlobKey == "" {
			continue
		}
		if s.blobs == nil {
			return nil, true, accessError("read entry "+e.EntryID, errors.New("blob store not configured"))
		}
		data, err := s.blobs.Get(ctx, e.BlobKey)
		if err != nil {
			return nil, true, accessError("read entry "+e.EntryID, err)
		}
		e.EncryptedEntry = data
	}
	return list, true, nil
}

// RecordSync bumps the sync counters of the writing vault.
func (s *Service) RecordSync(ctx context.Context, key Key) error {
	v, err := s.lookup(ctx, s.db, key)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrVaultNotFound
	}
	if err := s.repomanager.Vaults(s.db).RecordSync(ctx, v.ID, s.now()); err != nil {
		return accessError("record sync", err)
	}
	return nil
}
