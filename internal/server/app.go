// Package server assembles and runs the sync server: gRPC accounts and
// realtime sync, the vault HTTP API, the destroy-vault scheduler and the
// change listener.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/config"
	gs "github.com/dmitrijs2005/vaultsync/internal/server/grpc"
	"github.com/dmitrijs2005/vaultsync/internal/server/httpapi"
	"github.com/dmitrijs2005/vaultsync/internal/server/notify"
	"github.com/dmitrijs2005/vaultsync/internal/server/replication"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
	"github.com/dmitrijs2005/vaultsync/internal/server/storage"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
	"github.com/dmitrijs2005/vaultsync/internal/server/workflow"
)

const tokenPurgeInterval = time.Hour

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	users    *services.UserService
	vaults   *services.VaultService
	repl     *replication.Service
	wf       *workflow.Service
	listener *notify.Listener
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, parseLevel(c.LogLevel))

	var (
		db    *sql.DB
		repos repomanager.RepositoryManager
		blobs storage.BlobStore
		err   error
	)

	memoryMode := c.DatabaseDSN == config.MemoryDSN
	if memoryMode {
		// sqlite only provides transaction boundaries here
		db, err = sql.Open("sqlite", ":memory:")
		repos = memory.NewRepositoryManager()
	} else {
		db, err = sql.Open("pgx", c.DatabaseDSN)
		repos = repomanager.NewPostgresRepositoryManager()
	}
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := repos.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	if c.S3OffloadThreshold > 0 {
		if memoryMode {
			blobs = storage.NewMemoryBlobStore()
		} else {
			blobs, err = storage.NewS3BlobStore(ctx, storage.S3Options{
				Region:       c.S3Region,
				AccessKey:    c.S3RootUser,
				SecretKey:    c.S3RootPassword,
				Bucket:       c.S3Bucket,
				BaseEndpoint: c.S3BaseEndpoint,
			})
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("s3 init error: %w", err)
			}
		}
	}

	var opts []storage.Option
	if blobs != nil {
		opts = append(opts, storage.WithBlobStore(blobs, c.S3OffloadThreshold))
	}
	st := storage.NewService(db, repos, logger, opts...)

	hub := notify.NewHub()
	notifier := notify.Notifiers{hub}
	var listener *notify.Listener
	if !memoryMode {
		notifier = append(notifier, notify.NewPostgresNotifier(db))
		listener = notify.NewListener(c.DatabaseDSN, hub, logger)
	}

	tiers := usage.NewSubscriptionResolver(repos.Users(db))
	wf := workflow.NewService(db, repos, st, logger)

	return &App{
		config: c,
		logger: logger,
		db:     db,
		users:  services.NewUserService(db, repos, c),
		vaults: services.NewVaultService(st, st, wf, tiers, logger),
		repl: replication.NewService(st, tiers, notifier, hub, wf, replication.Config{
			WriteBatchLimit: c.WriteBatchLimit,
			ReadBatchLimit:  c.ReadBatchLimit,
			WriteRate:       c.WriteRate,
			WriteBurst:      c.WriteBurst,
		}, logger),
		wf:       wf,
		listener: listener,
	}, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.users, app.repl)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.users, app.vaults, app.config.HTTPRate, app.config.HTTPBurst)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) purgeTokens(ctx context.Context) {
	t := time.NewTicker(tokenPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := app.users.PurgeExpiredTokens(ctx); err != nil {
				app.logger.Warn(ctx, "refresh token purge failed", "err", err)
			} else if n > 0 {
				app.logger.Debug(ctx, "purged refresh tokens", "count", n)
			}
		}
	}
}

// Run starts every component and blocks until a signal arrives or one of
// the servers fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	run(func() { app.startGRPCServer(ctx, cancelFunc) })
	run(func() { app.startHTTPServer(ctx, cancelFunc) })
	run(func() { workflow.NewScheduler(app.wf, app.config.SchedulerInterval).Run(ctx) })
	run(func() { app.purgeTokens(ctx) })
	if app.listener != nil {
		run(func() {
			if err := app.listener.Run(ctx); err != nil {
				app.logger.Error(ctx, "change listener stopped", "err", err)
			}
		})
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "err", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
