// Package servertest assembles the server's services over in-memory
// repositories for tests in this module. An in-memory SQLite database only
// provides transaction boundaries; the repositories ignore it.
package servertest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/config"
	"github.com/dmitrijs2005/vaultsync/internal/server/notify"
	"github.com/dmitrijs2005/vaultsync/internal/server/replication"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
	"github.com/dmitrijs2005/vaultsync/internal/server/storage"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
	"github.com/dmitrijs2005/vaultsync/internal/server/workflow"
)

type Stack struct {
	DB          *sql.DB
	Repos       *memory.RepositoryManager
	Blobs       *storage.MemoryBlobStore
	Storage     *storage.Service
	Hub         *notify.Hub
	Workflows   *workflow.Service
	Users       *services.UserService
	Vaults      *services.VaultService
	Replication *replication.Service
	Config      *config.Config
}

type options struct {
	tiers       usage.TierResolver
	replication replication.Config
	threshold   int64
}

type Option func(*options)

// WithTier gives every user the same tier instead of the one their
// subscription names.
func WithTier(t usage.Tier) Option {
	return func(o *options) { o.tiers = usage.StaticResolver(t) }
}

func WithReplication(cfg replication.Config) Option {
	return func(o *options) { o.replication = cfg }
}

// WithOffload moves ciphertexts of at least threshold bytes to the blob
// store.
func WithOffload(threshold int64) Option {
	return func(o *options) { o.threshold = threshold }
}

func New(t testing.TB, opts ...Option) *Stack {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := memory.NewRepositoryManager()
	o := &options{tiers: usage.NewSubscriptionResolver(repos.Users(db))}
	for _, opt := range opts {
		opt(o)
	}

	cfg := &config.Config{}
	cfg.LoadDefaults()

	blobs := storage.NewMemoryBlobStore()
	st := storage.NewService(db, repos, logging.Discard(), storage.WithBlobStore(blobs, o.threshold))
	hub := notify.NewHub()
	wf := workflow.NewService(db, repos, st, logging.Discard())

	return &Stack{
		DB:          db,
		Repos:       repos,
		Blobs:       blobs,
		Storage:     st,
		Hub:         hub,
		Workflows:   wf,
		Users:       services.NewUserService(db, repos, cfg),
		Vaults:      services.NewVaultService(st, st, wf, o.tiers, logging.Discard()),
		Replication: replication.NewService(st, o.tiers, hub, hub, wf, o.replication, logging.Discard()),
		Config:      cfg,
	}
}

// SignUp registers and logs in a user whose verifier is derived from the
// username. It returns the user id and an access token.
func (s *Stack) SignUp(t testing.TB, username string) (string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	verifier := []byte("verifier-" + username)
	user, err := s.Users.Register(ctx, username, []byte("salt"), verifier)
	require.NoError(t, err)
	tokens, err := s.Users.Login(ctx, username, verifier)
	require.NoError(t, err)
	return user.ID, tokens.AccessToken
}
