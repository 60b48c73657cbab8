package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
)

// Journal is the part of the local journal the entry service needs.
type Journal interface {
	Record(ctx context.Context, eventType string, payload any) (*models.Entry, error)
	Get(ctx context.Context, entryID string) (*models.Entry, error)
	List(ctx context.Context, after int64, limit int) ([]*models.Entry, error)
	Pending(ctx context.Context, limit int) ([]*models.Entry, error)
}

// Syncer runs one synchronisation pass.
type Syncer interface {
	SyncOnce(ctx context.Context) error
}

type EntryService interface {
	Record(ctx context.Context, eventType string, fields []string) (*models.Entry, error)
	List(ctx context.Context, after int64, limit int) ([]*models.Entry, error)
	Get(ctx context.Context, id string) (*models.Entry, error)
	PendingCount(ctx context.Context) (int, error)
	Sync(ctx context.Context) error
}

type entryService struct {
	journal Journal
	syncer  Syncer
}

func NewEntryService(j Journal, s Syncer) EntryService {
	return &entryService{journal: j, syncer: s}
}

// Record stores a local event whose payload is built from name=value
// fields.
func (s *entryService) Record(ctx context.Context, eventType string, fields []string) (*models.Entry, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("event type required: %w", common.ErrorBadRequest)
	}
	payload, err := models.ParseFields(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, common.ErrorBadRequest)
	}
	e, err := s.journal.Record(ctx, eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}
	return e, nil
}

func (s *entryService) List(ctx context.Context, after int64, limit int) ([]*models.Entry, error) {
	rows, err := s.journal.List(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing entries: %w", err)
	}
	return rows, nil
}

func (s *entryService) Get(ctx context.Context, id string) (*models.Entry, error) {
	e, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving entry: %w", err)
	}
	return e, nil
}

// PendingCount counts local entries not yet acknowledged by the server.
func (s *entryService) PendingCount(ctx context.Context) (int, error) {
	const page = 1000
	rows, err := s.journal.Pending(ctx, page)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *entryService) Sync(ctx context.Context) error {
	if err := s.syncer.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
