// Package clienttest runs a complete in-process server (gRPC over bufconn
// and the vault HTTP API over httptest) for client tests.
package clienttest

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	servergrpc "github.com/dmitrijs2005/vaultsync/internal/server/grpc"
	"github.com/dmitrijs2005/vaultsync/internal/server/httpapi"
	"github.com/dmitrijs2005/vaultsync/internal/server/servertest"
)

type Env struct {
	Stack *servertest.Stack
	HTTP  *httptest.Server

	lis *bufconn.Listener
}

// Start serves a fresh server stack until the test ends.
func Start(t testing.TB, opts ...servertest.Option) *Env {
	t.Helper()

	st := servertest.New(t, opts...)
	lis := bufconn.Listen(1 << 20)
	srv := servergrpc.NewGRPCServer("bufnet", logging.Discard(), st.Users, st.Replication)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	api := httpapi.NewServer("", logging.Discard(), st.Users, st.Vaults, 1000, 1000)
	ts := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("grpc server did not stop")
		}
	})
	return &Env{Stack: st, HTTP: ts, lis: lis}
}

// Target is the gRPC address that DialOptions resolve to the in-process
// server.
const Target = "passthrough:///bufnet"

// DialOptions route a gRPC client to the in-process server.
func (e *Env) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return e.lis.DialContext(ctx) }),
	}
}

// Dial returns a client connected to the in-process gRPC server.
func (e *Env) Dial(t testing.TB) *client.GRPCClient {
	t.Helper()
	c, err := client.NewGRPCClient(Target, e.DialOptions()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// SignUp registers username through the account RPCs and logs the client in.
func (e *Env) SignUp(t testing.TB, c *client.GRPCClient, username string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	salt := []byte("salt-" + username)
	verifier := cryptox.Hash([]byte("verifier-" + username))
	require.NoError(t, c.Register(ctx, username, salt, verifier))
	require.NoError(t, c.Login(ctx, username, verifier))
}

// Login signs an existing user in on another client, as a second device
// would.
func (e *Env) Login(t testing.TB, c *client.GRPCClient, username string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Login(ctx, username, cryptox.Hash([]byte("verifier-"+username))))
}

// Vaults returns a vault API client authenticated through c.
func (e *Env) Vaults(c *client.GRPCClient) *client.VaultClient {
	return client.NewVaultClient(e.HTTP.URL, c, e.HTTP.Client())
}
