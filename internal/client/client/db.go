package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/client/migrations"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/audit"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/devices"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
)

// Repositories bundles the local stores bound to one DBTX.
type Repositories struct {
	Metadata metadata.Repository
	Entries  entries.Repository
	Devices  devices.Repository
	Audit    audit.Repository
}

func NewRepositories(db dbx.DBTX) *Repositories {
	return &Repositories{
		Metadata: metadata.NewSQLiteRepository(db),
		Entries:  entries.NewSQLiteRepository(db),
		Devices:  devices.NewSQLiteRepository(db),
		Audit:    audit.NewSQLiteRepository(db),
	}
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrations.Up(ctx, db)
}

// InitDatabase opens the local SQLite database and migrates it. The pool
// is limited to one connection: the database has a single writer and
// in-memory databases are per connection.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
