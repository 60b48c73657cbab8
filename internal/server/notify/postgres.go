package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

// Channel is the PostgreSQL notification channel shared by all nodes.
const Channel = "vaultsync_changes"

// PostgresNotifier publishes changes with pg_notify so every node's
// Listener sees them.
type PostgresNotifier struct {
	db *sql.DB
}

func NewPostgresNotifier(db *sql.DB) *PostgresNotifier {
	return &PostgresNotifier{db: db}
}

func (n *PostgresNotifier) Notify(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Listener holds a dedicated connection that LISTENs on Channel and feeds
// the hub. It reconnects with capped exponential backoff.
type Listener struct {
	dsn    string
	hub    *Hub
	logger logging.Logger

	// connect is replaced in tests.
	connect func(ctx context.Context, dsn string) (listenConn, error)
}

type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	WaitForNotification(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

type pgxConn struct{ c *pgx.Conn }

func (p pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.c.Exec(ctx, sql, args...)
	return err
}

func (p pgxConn) WaitForNotification(ctx context.Context) (string, error) {
	n, err := p.c.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (p pgxConn) Close(ctx context.Context) error { return p.c.Close(ctx) }

func NewListener(dsn string, hub *Hub, logger logging.Logger) *Listener {
	return &Listener{
		dsn:    dsn,
		hub:    hub,
		logger: logger.With("module", "notify"),
		connect: func(ctx context.Context, dsn string) (listenConn, error) {
			c, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return pgxConn{c}, nil
		},
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(500*time.Millisecond))
	backoff = retry.WithJitterPercent(20, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn(ctx, "change listener dropped", "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info(ctx, "listening for changes", "channel", Channel)

	for {
		payload, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var c Change
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			l.logger.Warn(ctx, "bad change payload", "err", err)
			continue
		}
		l.hub.Publish(c)
	}
}
