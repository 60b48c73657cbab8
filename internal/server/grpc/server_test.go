package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/servertest"
)

func startServer(t *testing.T, st *servertest.Stack) pb.SyncServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", logging.Discard(), st.Users, st.Replication)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return pb.NewSyncServiceClient(conn)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Discard(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Discard(), nil, nil)
	assert.Error(t, srv.Run(context.Background()))
}

func TestAccounts(t *testing.T) {
	st := servertest.New(t)
	client := startServer(t, st)
	ctx := context.Background()

	reg, err := client.RegisterUser(ctx, &pb.RegisterUserRequest{Username: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.UserID)

	_, err = client.RegisterUser(ctx, &pb.RegisterUserRequest{Username: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.RegisterUser(ctx, &pb.RegisterUserRequest{Username: "bob"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	salt, err := client.GetSalt(ctx, &pb.GetSaltRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), salt.Salt)

	_, err = client.Login(ctx, &pb.LoginRequest{Username: "alice", VerifierCandidate: []byte("wrong")})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	login, err := client.Login(ctx, &pb.LoginRequest{Username: "alice", VerifierCandidate: []byte("v")})
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)

	refreshed, err := client.RefreshToken(ctx, &pb.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = client.RefreshToken(ctx, &pb.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "refresh tokens are single use")

	ping, err := client.Ping(ctx, &pb.PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OK", ping.Status)
}

func TestSessionInterceptor_Rejects(t *testing.T) {
	st := servertest.New(t)
	client := startServer(t, st)

	cases := map[string]metadata.MD{
		"missing":   metadata.MD{},
		"malformed": metadata.Pairs(pb.MetadataSession, "!!"),
		"bad token": metadata.Pairs(pb.MetadataSession, pb.EncodeSession(pb.Session{Namespace: "n", PublicKey: "pk", Token: "nope"})),
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(metadata.NewOutgoingContext(context.Background(), md), 5*time.Second)
			defer cancel()
			stream, err := client.Sync(ctx)
			require.NoError(t, err)
			_, err = stream.Recv()
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
}
