// Package memory provides map-backed implementations of every server
// repository. Transactions are not modelled: each call is atomic on its own
// and nothing is rolled back. It backs service tests and the server's
// -d memory development mode.
package memory

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/entries"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/users"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/workflows"
)

type store struct {
	mu sync.Mutex

	seq           int
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	vaults        map[string]*models.Vault
	entries       map[string][]*models.PersistedEntry
	workflows     map[string]*models.DestroyWorkflow
}

func (s *store) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

// RepositoryManager is an in-memory repomanager.RepositoryManager. The
// DBTX arguments are ignored.
type RepositoryManager struct {
	s *store
}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{s: &store{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
		vaults:        make(map[string]*models.Vault),
		entries:       make(map[string][]*models.PersistedEntry),
		workflows:     make(map[string]*models.DestroyWorkflow),
	}}
}

func (m *RepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *RepositoryManager) Users(dbx.DBTX) users.Repository { return &userRepo{m.s} }

func (m *RepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return &refreshTokenRepo{m.s}
}

func (m *RepositoryManager) Vaults(dbx.DBTX) vaults.Repository { return &vaultRepo{m.s} }

func (m *RepositoryManager) Entries(dbx.DBTX) entries.Repository { return &entryRepo{m.s} }

func (m *RepositoryManager) Workflows(dbx.DBTX) workflows.Repository { return &workflowRepo{m.s} }
