package notify

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

func TestPostgresNotifier(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)).
		WithArgs(Channel, `{"namespace":"notes","userId":"u1","publicKey":"pkB","head":4}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresNotifier(db).Notify(context.Background(), change(4)))
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeConn struct {
	payloads chan string
	execs    []string
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...any) error {
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeConn) WaitForNotification(ctx context.Context) (string, error) {
	select {
	case p := <-f.payloads:
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeConn) Close(context.Context) error { return nil }

func TestListener_FeedsHubAndReconnects(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(key)
	defer sub.Close()

	conn := &fakeConn{payloads: make(chan string, 4)}
	var attempts atomic.Int32

	l := NewListener("postgres://ignored", hub, logging.Discard())
	l.connect = func(context.Context, string) (listenConn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	conn.payloads <- "not json"
	conn.payloads <- `{"namespace":"notes","userId":"u1","publicKey":"pkB","head":9}`

	select {
	case head := <-sub.C:
		assert.EqualValues(t, 9, head)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
	assert.Equal(t, []string{"LISTEN " + Channel}, conn.execs)
}
