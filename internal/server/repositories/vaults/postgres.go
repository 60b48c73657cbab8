package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

const vaultColumns = `id, namespace, user_id, public_key, note, current_sequence,
	sync_count, last_sync_at, used_storage_size, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVault(row scanner) (*models.Vault, error) {
	v := &models.Vault{}
	var lastSync sql.NullTime
	if err := row.Scan(&v.ID, &v.Namespace, &v.UserID, &v.PublicKey, &v.Note, &v.CurrentSequence,
		&v.SyncCount, &lastSync, &v.UsedStorageSize, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		v.LastSyncAt = &t
	}
	return v, nil
}

func (r *PostgresRepository) get(ctx context.Context, query, namespace, userID, publicKey string) (*models.Vault, error) {
	v, err := scanVault(r.db.QueryRowContext(ctx, query, namespace, userID, publicKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Get(ctx context.Context, namespace, userID, publicKey string) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults
		WHERE namespace = $1 AND user_id = $2 AND public_key = $3`
	return r.get(ctx, query, namespace, userID, publicKey)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, namespace, userID, publicKey string) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults
		WHERE namespace = $1 AND user_id = $2 AND public_key = $3
		FOR UPDATE`
	return r.get(ctx, query, namespace, userID, publicKey)
}

// Create inserts v. An existing vault for the same key yields
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, v *models.Vault) (*models.Vault, error) {
	query := `
		INSERT INTO vaults (namespace, user_id, public_key, note)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, v.Namespace, v.UserID, v.PublicKey, v.Note).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateNote(ctx context.Context, id, note string) error {
	return r.exec(ctx, `UPDATE vaults SET note = $2, updated_at = now() WHERE id = $1`, id, note)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM vaults WHERE id = $1`, id)
}

func (r *PostgresRepository) AdvanceSequence(ctx context.Context, id string, sequence, addedBytes int64) error {
	return r.exec(ctx, `UPDATE vaults
		SET current_sequence = $2, used_storage_size = used_storage_size + $3, updated_at = now()
		WHERE id = $1`, id, sequence, addedBytes)
}

func (r *PostgresRepository) RecordSync(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE vaults
		SET sync_count = sync_count + 1, last_sync_at = $2
		WHERE id = $1`, id, at)
}

func (r *PostgresRepository) LockUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasDevice(ctx context.Context, userID, publicKey string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM vaults WHERE user_id = $1 AND public_key = $2)`
	if err := r.db.QueryRowContext(ctx, query, userID, publicKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) List(ctx context.Context, namespace, userID string) ([]*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults
		WHERE namespace = $1 AND user_id = $2
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, namespace, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select vaults: %w", err)
	}
	defer rows.Close()

	var result []*models.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByNamespace(ctx context.Context, namespace, userID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM vaults WHERE namespace = $1 AND user_id = $2`, namespace, userID)
}

func (r *PostgresRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM vaults WHERE user_id = $1`, userID)
}

// CountDevicesByUser counts distinct device keys, so one device syncing
// several namespaces is a single device.
func (r *PostgresRepository) CountDevicesByUser(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(DISTINCT public_key) FROM vaults WHERE user_id = $1`, userID)
}
