package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/entries"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/users"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/workflows"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs against *sql.DB or inside a dbx.WithTx transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	Entries(db dbx.DBTX) entries.Repository
	Workflows(db dbx.DBTX) workflows.Repository
}
