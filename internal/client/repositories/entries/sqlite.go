package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
)

const columns = `local_seq, entry_id, event_type, payload, created_at, pushed, remote_sequence`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e *models.Entry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Payload) == 0 {
		e.Payload = []byte("null")
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (entry_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		e.EntryID, e.EventType, []byte(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get local sequence: %w", err)
	}
	e.LocalSeq = seq
	e.Pushed = false
	return nil
}

func (r *SQLiteRepository) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE entry_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check entry: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE entry_id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, after int64, limit int) ([]*models.Entry, error) {
	return r.query(ctx, `SELECT `+columns+` FROM entries WHERE local_seq > ? ORDER BY local_seq LIMIT ?`, after, limit)
}

func (r *SQLiteRepository) Pending(ctx context.Context, limit int) ([]*models.Entry, error) {
	return r.query(ctx, `SELECT `+columns+` FROM entries WHERE pushed = 0 ORDER BY local_seq LIMIT ?`, limit)
}

func (r *SQLiteRepository) MarkPushed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := r.db.ExecContext(ctx, `UPDATE entries SET pushed = 1 WHERE entry_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark entries pushed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, e *models.Entry, sequence int64) (bool, error) {
	if e.EntryID == "" {
		return false, fmt.Errorf("remote entry without id: %w", common.ErrorBadRequest)
	}
	if len(e.Payload) == 0 {
		e.Payload = []byte("null")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO entries (entry_id, event_type, payload, created_at, pushed, remote_sequence)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(entry_id) DO NOTHING
	`, e.EntryID, e.EventType, []byte(e.Payload), e.CreatedAt, sequence)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.LocalSeq = seq
	}
	e.Pushed = true
	e.RemoteSequence = sequence
	return true, nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Entry, error) {
	var (
		e       models.Entry
		payload []byte
		pushed  int
		remote  sql.NullInt64
	)
	if err := s.Scan(&e.LocalSeq, &e.EntryID, &e.EventType, &payload, &e.CreatedAt, &pushed, &remote); err != nil {
		return nil, err
	}
	e.Payload = payload
	e.Pushed = pushed == 1
	e.RemoteSequence = remote.Int64
	return &e, nil
}
