// Package replication implements the server side of the sync protocol:
// fan-out writes to every addressed vault stream, snapshot reads and live
// change feeds.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/ratelimit"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/notify"
	"github.com/dmitrijs2005/vaultsync/internal/server/storage"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
)

var (
	ErrBatchTooLarge = fmt.Errorf("write batch too large: %w", common.ErrorBadRequest)
	ErrInvalidEntry  = fmt.Errorf("invalid entry: %w", common.ErrorBadRequest)
)

// TooManyRequestsError is returned when a device writes faster than its
// rate allows. The write may be retried after RetryAfter.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// Store is the part of storage.Service replication uses.
type Store interface {
	Roster(ctx context.Context, namespace, userID string) ([]*models.SyncInfo, error)
	AppendAll(ctx context.Context, batches []storage.Batch, maxStorage int64) ([]*storage.AppendResult, error)
	Read(ctx context.Context, key models.VaultKey, after int64, limit int) ([]*models.PersistedEntry, bool, error)
	Head(ctx context.Context, key models.VaultKey) (int64, bool, error)
	RecordSync(ctx context.Context, key models.VaultKey) error
}

// Accessor cancels a pending vault deletion when the device shows up again.
type Accessor interface {
	Access(ctx context.Context, key models.VaultKey) (bool, error)
}

// Envelope is the DEK of one entry wrapped for one recipient device.
type Envelope struct {
	PublicKey    string
	EncryptedDEK []byte
}

// OutgoingEntry is an encrypted entry together with one envelope per
// recipient. Recipients without a vault in the namespace are skipped.
type OutgoingEntry struct {
	EntryID        string
	IV             []byte
	EncryptedEntry []byte
	Keys           []Envelope
}

// WriteResult acknowledges a write. Every entry of the request appears in
// exactly one of Accepted or Duplicates.
type WriteResult struct {
	// Accepted entries were persisted by this call in at least one stream.
	Accepted []string
	// Duplicates were already present in every addressed stream.
	Duplicates []string
	// Head is the writer's own stream head.
	Head int64
}

type Config struct {
	WriteBatchLimit int
	ReadBatchLimit  int
	WriteRate       float64
	WriteBurst      int
	// FeedBuffer bounds the entries a change feed holds for a slow reader.
	FeedBuffer int
}

type Service struct {
	store    Store
	tiers    usage.TierResolver
	notifier notify.Notifier
	hub      *notify.Hub
	accessor Accessor
	limiter  *ratelimit.Keyed
	cfg      Config
	logger   logging.Logger
}

func NewService(store Store, tiers usage.TierResolver, notifier notify.Notifier, hub *notify.Hub, accessor Accessor, cfg Config, logger logging.Logger) *Service {
	if cfg.WriteBatchLimit <= 0 {
		cfg.WriteBatchLimit = 100
	}
	if cfg.ReadBatchLimit <= 0 {
		cfg.ReadBatchLimit = 500
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = 64
	}
	return &Service{
		store:    store,
		tiers:    tiers,
		notifier: notifier,
		hub:      hub,
		accessor: accessor,
		limiter:  ratelimit.New(cfg.WriteRate, cfg.WriteBurst, 10*time.Minute),
		cfg:      cfg,
		logger:   logger.With("module", "replication"),
	}
}

// Open validates that the device has a vault and cancels any pending
// destruction of it. It returns the current head.
func (s *Service) Open(ctx context.Context, key models.VaultKey) (int64, error) {
	head, ok, err := s.store.Head(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, storage.ErrVaultNotFound
	}
	if s.accessor != nil {
		if cancelled, err := s.accessor.Access(ctx, key); err != nil {
			s.logger.Warn(ctx, "access check failed", "err", err)
		} else if cancelled {
			s.logger.Info(ctx, "pending destruction cancelled by reconnect", "device", cryptox.PublicKeyHash(key.PublicKey))
		}
	}
	return head, nil
}

func validate(e OutgoingEntry) error {
	if e.EntryID == "" || len(e.IV) != cryptox.NonceSize || len(e.EncryptedEntry) == 0 || len(e.Keys) == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, e.EntryID)
	}
	return nil
}

// Write stores entries in every addressed stream of the writer's namespace.
// All destinations are appended in one transaction with their vault rows
// locked in key order, so a quota failure on any of them writes nothing.
// Re-sending an entry is a successful no-op.
func (s *Service) Write(ctx context.Context, key models.VaultKey, entries []OutgoingEntry) (*WriteResult, error) {
	if len(entries) > s.cfg.WriteBatchLimit {
		return nil, ErrBatchTooLarge
	}
	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
	}
	if ok, wait := s.limiter.Allow(key.UserID + "/" + key.PublicKey); !ok {
		return nil, &TooManyRequestsError{RetryAfter: wait}
	}

	tier, err := s.tiers.Resolve(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.Roster(ctx, key.Namespace, key.UserID)
	if err != nil {
		return nil, err
	}
	registered := make(map[string]bool, len(roster))
	for _, r := range roster {
		registered[r.PublicKey] = true
	}
	if !registered[key.PublicKey] {
		return nil, storage.ErrVaultNotFound
	}

	byDest := make(map[string][]*models.PersistedEntry)
	for _, e := range entries {
		for _, env := range e.Keys {
			if !registered[env.PublicKey] {
				s.logger.Debug(ctx, "skipping unregistered recipient", "entry", e.EntryID, "device", cryptox.PublicKeyHash(env.PublicKey))
				continue
			}
			byDest[env.PublicKey] = append(byDest[env.PublicKey], &models.PersistedEntry{
				EntryID:        e.EntryID,
				IV:             e.IV,
				EncryptedEntry: e.EncryptedEntry,
				EncryptedDEK:   env.EncryptedDEK,
			})
		}
	}

	dests := make([]string, 0, len(byDest))
	for pk := range byDest {
		dests = append(dests, pk)
	}
	sort.Strings(dests)

	batches := make([]storage.Batch, 0, len(dests))
	for _, pk := range dests {
		batches = append(batches, storage.Batch{
			Key:     models.VaultKey{Namespace: key.Namespace, UserID: key.UserID, PublicKey: pk},
			Entries: byDest[pk],
		})
	}
	results, err := s.store.AppendAll(ctx, batches, tier.MaxStorageBytes)
	if err != nil {
		return nil, fmt.Errorf("append to %d streams: %w", len(batches), err)
	}

	accepted := make(map[string]bool)
	res := &WriteResult{}
	for i, ar := range results {
		dest := batches[i].Key
		for _, e := range ar.Accepted {
			accepted[e.EntryID] = true
		}
		if dest.PublicKey == key.PublicKey {
			res.Head = ar.Head
		}
		if len(ar.Accepted) > 0 {
			change := notify.Change{Namespace: dest.Namespace, UserID: dest.UserID, PublicKey: dest.PublicKey, Head: ar.Head}
			if err := s.notifier.Notify(ctx, change); err != nil {
				s.logger.Warn(ctx, "change notification failed", "err", err)
			}
		}
	}

	for _, e := range entries {
		if accepted[e.EntryID] {
			res.Accepted = append(res.Accepted, e.EntryID)
		} else {
			res.Duplicates = append(res.Duplicates, e.EntryID)
		}
	}
	if res.Head == 0 {
		if res.Head, _, err = s.store.Head(ctx, key); err != nil {
			return nil, err
		}
	}

	if err := s.store.RecordSync(ctx, key); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "record sync failed", "err", err)
	}
	s.logger.Debug(ctx, "write", "accepted", len(res.Accepted), "duplicates", len(res.Duplicates), "destinations", len(dests))
	return res, nil
}

// Entries returns a snapshot of up to limit entries after the given
// sequence, capped at the configured read batch size.
func (s *Service) Entries(ctx context.Context, key models.VaultKey, after int64, limit int) ([]*models.PersistedEntry, error) {
	if limit <= 0 || limit > s.cfg.ReadBatchLimit {
		limit = s.cfg.ReadBatchLimit
	}
	list, ok, err := s.store.Read(ctx, key, after, limit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrVaultNotFound
	}
	return list, nil
}
