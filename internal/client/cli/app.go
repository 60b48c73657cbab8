package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/config"
	"github.com/dmitrijs2005/vaultsync/internal/client/identity"
	"github.com/dmitrijs2005/vaultsync/internal/client/journal"
	"github.com/dmitrijs2005/vaultsync/internal/client/lock"
	"github.com/dmitrijs2005/vaultsync/internal/client/services"
	"github.com/dmitrijs2005/vaultsync/internal/client/syncer"
	"github.com/dmitrijs2005/vaultsync/internal/filex"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

const memoryDSN = ":memory:"

type App struct {
	config *config.Config
	logger logging.Logger
	out    io.Writer
	reader *bufio.Reader

	db           *sql.DB
	repos        *client.Repositories
	accounts     *client.GRPCClient
	vaults       *client.VaultClient
	authService  services.AuthService
	entryService services.EntryService
	identity     *identity.Service
	journal      *journal.Service
	engine       *syncer.Engine

	userName string
	loggedIn bool

	modeMu sync.Mutex
	mode   Mode
}

type options struct {
	dialOpts   []grpc.DialOption
	httpClient *http.Client
	in         io.Reader
	out        io.Writer
	logger     logging.Logger
}

type Option func(*options)

// WithDialOptions adds gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithIO(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return logging.NewText(os.Stderr, lvl)
}

// NewApp opens the local database and wires the client services. The
// database stays locked against other processes until Close.
func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	o := &options{in: os.Stdin, out: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = newLogger(c.LogLevel)
	}

	var lk *lock.FileLock
	if c.DBPath != memoryDSN {
		path, err := filex.EnsureParentDir(c.DBPath)
		if err != nil {
			return nil, err
		}
		if lk, err = lock.Acquire(lock.PathFor(path)); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	db, err := client.InitDatabase(ctx, c.DBPath)
	if err != nil {
		_ = lk.Release()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	api, err := client.NewGRPCClient(c.ServerEndpointAddr, o.dialOpts...)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	repos := client.NewRepositories(db)
	vaults := client.NewVaultClient(c.ServerHTTPAddr, api, o.httpClient)
	id := identity.NewService(repos.Metadata, repos.Devices, repos.Audit, vaults, o.logger)
	j := journal.NewService(db, lk, o.logger)
	engine := syncer.New(syncer.Config{
		Namespace:     c.Namespace,
		SlotWidth:     c.TimeSlotWidth,
		WriteTimeout:  c.WriteTimeout,
		BackoffMin:    c.BackoffMin,
		BackoffMax:    c.BackoffMax,
		PushInterval:  c.PushInterval,
		PushBatchSize: c.PushBatchSize,
	}, api, api, j, id, o.logger)

	a := &App{
		config:       c,
		logger:       o.logger,
		out:          o.out,
		reader:       bufio.NewReader(o.in),
		db:           db,
		repos:        repos,
		accounts:     api,
		vaults:       vaults,
		authService:  services.NewAuthService(api, repos.Metadata, o.logger),
		entryService: services.NewEntryService(j, engine),
		identity:     id,
		journal:      j,
		engine:       engine,
		mode:         ModeOffline,
	}

	user, ok, err := a.authService.Restore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.userName, a.loggedIn = user, ok
	return a, nil
}

// Close stops the engine and releases the database and the connection.
func (a *App) Close() error {
	a.engine.Stop()
	a.identity.Wait()
	return errors.Join(
		a.journal.Close(),
		a.db.Close(),
		a.accounts.Close(),
	)
}

// setMode records the connectivity mode and reports whether it changed.
func (a *App) setMode(mode Mode) bool {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	if a.mode == mode {
		return false
	}
	a.mode = mode
	a.logger.Info(context.Background(), "connectivity changed", "mode", string(mode))
	return true
}

func (a *App) Mode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

func (a *App) isLoggedIn() bool {
	return a.loggedIn
}

// requireLogin fails commands that need a server session.
func (a *App) requireLogin() error {
	if !a.loggedIn {
		return client.ErrNotLoggedIn
	}
	return nil
}

// StartOnlineStatusWatcher checks the server every interval and flips the
// connectivity mode until ctx is done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration, changed func(Mode)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.authService.Ping(pctx)
			cancel()

			mode := ModeOnline
			if err != nil {
				mode = ModeOffline
			}
			if a.setMode(mode) && changed != nil {
				changed(mode)
			}

		case <-ctx.Done():
			return
		}
	}
}
