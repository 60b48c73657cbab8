package entries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

// PostgresRepository implements entry storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Exists(ctx context.Context, vaultID, entryID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM vault_entries WHERE vault_id = $1 AND entry_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, vaultID, entryID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// Insert appends e to its vault stream. A clash on (vault_id, entry_id) or
// (vault_id, sequence) yields common.ErrorAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, e *models.PersistedEntry) error {
	query := `
		INSERT INTO vault_entries (vault_id, sequence, entry_id, iv, encrypted_entry, encrypted_dek, blob_key, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var blobKey sql.NullString
	if e.BlobKey != "" {
		blobKey = sql.NullString{String: e.BlobKey, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		e.VaultID, e.Sequence, e.EntryID, e.IV, e.EncryptedEntry, e.EncryptedDEK, blobKey, e.Size)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAfter(ctx context.Context, vaultID string, after int64, limit int) ([]*models.PersistedEntry, error) {
	query := `
		SELECT vault_id, sequence, entry_id, iv, encrypted_entry, encrypted_dek, blob_key, size, created_at
		FROM vault_entries
		WHERE vault_id = $1 AND sequence > $2
		ORDER BY sequence
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, vaultID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.PersistedEntry
	for rows.Next() {
		var (
			item    models.PersistedEntry
			blobKey sql.NullString
		)
		if err := rows.Scan(&item.VaultID, &item.Sequence, &item.EntryID, &item.IV, &item.EncryptedEntry,
			&item.EncryptedDEK, &blobKey, &item.Size, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.BlobKey = blobKey.String
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) BlobKeys(ctx context.Context, vaultID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT blob_key FROM vault_entries WHERE vault_id = $1 AND blob_key IS NOT NULL`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to select blob keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
