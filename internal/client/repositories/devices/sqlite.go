package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
)

const columns = `public_key, note, created_at, updated_at, last_synced_at, sync_count, used_storage_size, max_storage_size`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, d *models.Device) error {
	var lastSynced sql.NullTime
	if d.LastSyncedAt != nil {
		lastSynced = sql.NullTime{Time: *d.LastSyncedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET
			note = excluded.note,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at,
			sync_count = excluded.sync_count,
			used_storage_size = excluded.used_storage_size,
			max_storage_size = excluded.max_storage_size
	`, d.PublicKey, d.Note, d.CreatedAt, d.UpdatedAt, lastSynced, d.SyncCount, d.UsedStorageSize, d.MaxStorageSize)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, publicKey string) (*models.Device, error) {
	d, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM devices WHERE public_key = ?`, publicKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM devices ORDER BY created_at, public_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, publicKey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE public_key = ?`, publicKey); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("failed to clear devices: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Device, error) {
	var (
		d          models.Device
		lastSynced sql.NullTime
	)
	err := s.Scan(&d.PublicKey, &d.Note, &d.CreatedAt, &d.UpdatedAt, &lastSynced, &d.SyncCount, &d.UsedStorageSize, &d.MaxStorageSize)
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		d.LastSyncedAt = &t
	}
	return &d, nil
}
