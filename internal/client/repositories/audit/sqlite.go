// Package audit appends identity events to the local audit_log table.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
)

type Repository interface {
	Append(ctx context.Context, at time.Time, event models.AuditEvent) error
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]models.AuditRecord, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, at time.Time, event models.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_log (timestamp, event) VALUES (?, ?)`, at.UTC(), string(event))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, timestamp, event FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var result []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var event string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &event); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Event = models.AuditEvent(event)
		result = append(result, rec)
	}
	return result, rows.Err()
}
