package workflows

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

const workflowColumns = `instance_id, namespace, user_id, public_key, delete_after, status, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.DestroyWorkflow, error) {
	w := &models.DestroyWorkflow{}
	err := row.Scan(&w.InstanceID, &w.Namespace, &w.UserID, &w.PublicKey, &w.DeleteAfter, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *PostgresRepository) Get(ctx context.Context, instanceID string) (*models.DestroyWorkflow, error) {
	w, err := scanWorkflow(r.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM destroy_workflows WHERE instance_id = $1`, instanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return w, nil
}

func (r *PostgresRepository) Create(ctx context.Context, w *models.DestroyWorkflow) error {
	query := `
		INSERT INTO destroy_workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		w.InstanceID, w.Namespace, w.UserID, w.PublicKey, w.DeleteAfter, w.Status, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) swapped(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, instanceID, from, to string, now time.Time) (bool, error) {
	return r.swapped(ctx, `UPDATE destroy_workflows SET status = $3, updated_at = $4
		WHERE instance_id = $1 AND status = $2`, instanceID, from, to, now)
}

func (r *PostgresRepository) Reschedule(ctx context.Context, instanceID, from string, deleteAfter, now time.Time) (bool, error) {
	return r.swapped(ctx, `UPDATE destroy_workflows SET status = 'scheduled', delete_after = $3, updated_at = $4
		WHERE instance_id = $1 AND status = $2`, instanceID, from, deleteAfter, now)
}

func (r *PostgresRepository) Claim(ctx context.Context, instanceID, status string, updatedAt, now time.Time) (bool, error) {
	return r.swapped(ctx, `UPDATE destroy_workflows SET status = 'running', updated_at = $4
		WHERE instance_id = $1 AND status = $2 AND updated_at = $3`, instanceID, status, updatedAt, now)
}

func (r *PostgresRepository) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.DestroyWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM destroy_workflows
		WHERE (status = 'scheduled' AND delete_after <= $1)
		   OR (status = 'running' AND updated_at < $2)
		ORDER BY delete_after
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due workflows: %w", err)
	}
	defer rows.Close()

	var result []*models.DestroyWorkflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
