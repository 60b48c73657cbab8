// Package journal is the single write path into the local event journal.
//
// Local records and entries received from the server are serialised by one
// mutex, and a process-wide file lock keeps other processes out. Applying a
// remote batch inserts unseen entries and advances the namespace checkpoint
// in one transaction; entries at or below the checkpoint may still arrive
// again and are skipped by entryId.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/vaultsync/internal/client/lock"
	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

type Service struct {
	db     *sql.DB
	lock   *lock.FileLock
	logger logging.Logger

	mu      sync.Mutex
	changed chan struct{}
}

// NewService takes ownership of lk, which Close releases. lk may be nil
// when the caller guarantees a single writer.
func NewService(db *sql.DB, lk *lock.FileLock, logger logging.Logger) *Service {
	return &Service{
		db:      db,
		lock:    lk,
		logger:  logger.With("module", "journal"),
		changed: make(chan struct{}, 1),
	}
}

// Changed fires after local entries are recorded.
func (s *Service) Changed() <-chan struct{} {
	return s.changed
}

func (s *Service) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Record appends a new local event with a JSON payload.
func (s *Service) Record(ctx context.Context, eventType string, payload any) (*models.Entry, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type required: %w", common.ErrorBadRequest)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	e := &models.Entry{EventType: eventType, Payload: raw}
	if err := s.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Append stores a locally created entry.
func (s *Service) Append(ctx context.Context, e *models.Entry) error {
	s.mu.Lock()
	err := entries.NewSQLiteRepository(s.db).Append(ctx, e)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "entry recorded", "entry", e.EntryID, "type", e.EventType)
	s.signal()
	return nil
}

func (s *Service) Get(ctx context.Context, entryID string) (*models.Entry, error) {
	return entries.NewSQLiteRepository(s.db).Get(ctx, entryID)
}

func (s *Service) List(ctx context.Context, after int64, limit int) ([]*models.Entry, error) {
	return entries.NewSQLiteRepository(s.db).List(ctx, after, limit)
}

func (s *Service) Pending(ctx context.Context, limit int) ([]*models.Entry, error) {
	return entries.NewSQLiteRepository(s.db).Pending(ctx, limit)
}

func (s *Service) MarkPushed(ctx context.Context, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entries.NewSQLiteRepository(s.db).MarkPushed(ctx, entryIDs)
}

// Checkpoint returns the highest server sequence applied for namespace.
func (s *Service) Checkpoint(ctx context.Context, namespace string) (int64, error) {
	return checkpoint(ctx, metadata.NewSQLiteRepository(s.db), namespace)
}

func checkpoint(ctx context.Context, meta metadata.Repository, namespace string) (int64, error) {
	raw, ok, err := meta.Get(ctx, metadata.KeyCheckpointPrefix+namespace)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint for %s: %w", namespace, err)
	}
	return n, nil
}

// ApplyResult reports what Apply did with a batch.
type ApplyResult struct {
	Applied    int
	Duplicates int
	Checkpoint int64
}

// Apply inserts decrypted remote entries that are not yet in the journal
// and moves the namespace checkpoint to the highest sequence seen. The
// checkpoint never moves backwards.
func (s *Service) Apply(ctx context.Context, namespace string, batch []*models.Entry) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &ApplyResult{}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		meta := metadata.NewSQLiteRepository(tx)

		cp, err := checkpoint(ctx, meta, namespace)
		if err != nil {
			return err
		}
		res.Checkpoint = cp

		for _, e := range batch {
			isNew, err := repo.ApplyRemote(ctx, e, e.RemoteSequence)
			if err != nil {
				return err
			}
			if isNew {
				res.Applied++
			} else {
				res.Duplicates++
			}
			if e.RemoteSequence > res.Checkpoint {
				res.Checkpoint = e.RemoteSequence
			}
		}
		if res.Checkpoint == cp {
			return nil
		}
		return meta.Set(ctx, metadata.KeyCheckpointPrefix+namespace, []byte(strconv.FormatInt(res.Checkpoint, 10)))
	})
	if err != nil {
		return nil, fmt.Errorf("apply remote entries: %w", err)
	}
	return res, nil
}

// AdvanceCheckpoint moves the checkpoint forward without entries, used
// when every entry of a batch had to be skipped.
func (s *Service) AdvanceCheckpoint(ctx context.Context, namespace string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := metadata.NewSQLiteRepository(s.db)
	cp, err := checkpoint(ctx, meta, namespace)
	if err != nil || sequence <= cp {
		return err
	}
	return meta.Set(ctx, metadata.KeyCheckpointPrefix+namespace, []byte(strconv.FormatInt(sequence, 10)))
}

// Close releases the file lock. The database is owned by the caller.
func (s *Service) Close() error {
	return s.lock.Release()
}
