package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

var ErrOffline = errors.New("roster client not configured")

// RosterClient is the server side of the device roster.
type RosterClient interface {
	Register(ctx context.Context, namespace, self string, items []pb.RegisterItem) ([]pb.SyncPublicKeyItem, error)
	Stats(ctx context.Context, namespace, publicKey string) (*pb.SyncStats, error)
	UpdateNote(ctx context.Context, namespace, publicKey, note string) error
}

// UpsertPublicKey adds a device to the local roster or updates its note.
func (s *Service) UpsertPublicKey(ctx context.Context, publicKey, note string) (*models.Device, error) {
	if _, err := cryptox.DecodePublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("public key: %w", common.ErrorBadRequest)
	}
	now := s.now().UTC()
	d, err := s.devices.Get(ctx, publicKey)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		d = &models.Device{PublicKey: publicKey, Note: note, CreatedAt: now, UpdatedAt: now}
	case err != nil:
		return nil, err
	case d.Note != note:
		d.Note = note
		d.UpdatedAt = now
	}
	if err := s.devices.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) DeletePublicKey(ctx context.Context, publicKey string) error {
	return s.devices.Delete(ctx, publicKey)
}

// UpdatePublicKey changes the note of a known device.
func (s *Service) UpdatePublicKey(ctx context.Context, publicKey, note string) (*models.Device, error) {
	d, err := s.devices.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	d.Note = note
	d.UpdatedAt = s.now().UTC()
	if err := s.devices.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// PublicKeys lists the local roster.
func (s *Service) PublicKeys(ctx context.Context) ([]*models.Device, error) {
	return s.devices.List(ctx)
}

// RecipientKeys returns the public keys entries are encrypted for.
func (s *Service) RecipientKeys(ctx context.Context) ([]string, error) {
	list, err := s.devices.List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(list))
	for _, d := range list {
		keys = append(keys, d.PublicKey)
	}
	return keys, nil
}

// SyncPublicKeys registers the local roster (this device included) with the
// server and merges the server roster back. The server owns the sync
// counters and the set of devices: local peers missing from its roster were
// destroyed and are removed. The note with the newer UpdatedAt wins.
func (s *Service) SyncPublicKeys(ctx context.Context, namespace string) ([]*models.Device, error) {
	if s.roster == nil {
		return nil, ErrOffline
	}
	self, err := s.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.devices.Get(ctx, self); errors.Is(err, common.ErrorNotFound) {
		if _, err := s.UpsertPublicKey(ctx, self, ""); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	local, err := s.devices.List(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*models.Device, len(local))
	items := make([]pb.RegisterItem, 0, len(local))
	for _, d := range local {
		byKey[d.PublicKey] = d
		items = append(items, pb.RegisterItem{PublicKey: d.PublicKey, Note: d.Note, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	}

	remote, err := s.roster.Register(ctx, namespace, self, items)
	if err != nil {
		return nil, err
	}

	merged := make([]*models.Device, 0, len(remote))
	for _, r := range remote {
		d := merge(byKey[r.PublicKey], r)
		if err := s.devices.Upsert(ctx, d); err != nil {
			return nil, err
		}
		merged = append(merged, d)
		delete(byKey, r.PublicKey)
	}
	for pk := range byKey {
		if pk == self {
			continue
		}
		if err := s.devices.Delete(ctx, pk); err != nil {
			return nil, err
		}
		s.logger.Info(ctx, "device dropped from roster", "device", cryptox.PublicKeyHash(pk))
	}
	s.logger.Debug(ctx, "roster synced", "namespace", namespace, "devices", len(merged))
	return merged, nil
}

// SyncPublicKey refreshes the server counters of one device and pushes its
// note.
func (s *Service) SyncPublicKey(ctx context.Context, namespace, publicKey string) (*models.Device, error) {
	if s.roster == nil {
		return nil, ErrOffline
	}
	d, err := s.devices.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	stats, err := s.roster.Stats(ctx, namespace, publicKey)
	if err != nil {
		return nil, err
	}
	if err := s.roster.UpdateNote(ctx, namespace, publicKey, d.Note); err != nil {
		return nil, err
	}
	applyStats(d, *stats)
	if err := s.devices.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func merge(local *models.Device, r pb.SyncPublicKeyItem) *models.Device {
	d := &models.Device{PublicKey: r.PublicKey, Note: r.Note, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if local != nil {
		if local.UpdatedAt.After(r.UpdatedAt) {
			d.Note = local.Note
			d.UpdatedAt = local.UpdatedAt
		}
		if !local.CreatedAt.IsZero() && local.CreatedAt.Before(d.CreatedAt) {
			d.CreatedAt = local.CreatedAt
		}
	}
	applyStats(d, r.SyncStats)
	return d
}

func applyStats(d *models.Device, st pb.SyncStats) {
	d.LastSyncedAt = st.LastSyncAt
	d.SyncCount = st.SyncCount
	d.UsedStorageSize = st.UsedStorageSize
	d.MaxStorageSize = st.MaxStorageSize
}
