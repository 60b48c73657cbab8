package proto

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	UnimplementedSyncServiceServer
	lastLogin *LoginRequest
}

func (e *echoServer) RegisterUser(_ context.Context, in *RegisterUserRequest) (*RegisterUserResponse, error) {
	return &RegisterUserResponse{UserID: "id-" + in.Username}, nil
}

func (e *echoServer) GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error) {
	return &GetSaltResponse{Salt: []byte{1, 2, 3}}, nil
}

func (e *echoServer) Login(_ context.Context, in *LoginRequest) (*LoginResponse, error) {
	e.lastLogin = in
	return &LoginResponse{AccessToken: "a", RefreshToken: "r"}, nil
}

func (e *echoServer) RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error) {
	return &RefreshTokenResponse{AccessToken: "a2", RefreshToken: "r2"}, nil
}

func (e *echoServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

// Sync answers every write with a written frame listing its entry ids.
func (e *echoServer) Sync(stream SyncService_SyncServer) error {
	for {
		f, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		out := &ServerFrame{Type: FrameWritten, RequestID: f.RequestID, Head: int64(len(f.Entries))}
		for _, e := range f.Entries {
			out.Accepted = append(out.Accepted, e.EntryID)
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func dial(t *testing.T, srv SyncServiceServer) SyncServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterSyncServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSyncServiceClient(conn)
}

func TestUnaryOverJSONCodec(t *testing.T) {
	srv := &echoServer{}
	c := dial(t, srv)
	ctx := context.Background()

	reg, err := c.RegisterUser(ctx, &RegisterUserRequest{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "id-bob", reg.UserID)

	salt, err := c.GetSalt(ctx, &GetSaltRequest{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, salt.Salt)

	login, err := c.Login(ctx, &LoginRequest{Username: "bob", VerifierCandidate: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, "a", login.AccessToken)
	assert.Equal(t, []byte("v"), srv.lastLogin.VerifierCandidate)

	ping, err := c.Ping(ctx, &PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OK", ping.Status)
}

func TestSyncStream(t *testing.T) {
	c := dial(t, &echoServer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := c.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&ClientFrame{
		Type:      FrameWrite,
		RequestID: "r1",
		Entries: []Entry{
			{EntryID: "e1", IV: make([]byte, 12), Keys: []Envelope{{PublicKey: "pk", EncryptedDEK: []byte("d")}}},
			{EntryID: "e2"},
		},
	}))

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameWritten, got.Type)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, []string{"e1", "e2"}, got.Accepted)
	assert.EqualValues(t, 2, got.Head)

	require.NoError(t, stream.CloseSend())
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

// pingOnly leaves every other method to the embedded defaults.
type pingOnly struct {
	UnimplementedSyncServiceServer
}

func (pingOnly) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func TestUnimplementedMethods(t *testing.T) {
	c := dial(t, pingOnly{})
	ctx := context.Background()

	ping, err := c.Ping(ctx, &PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OK", ping.Status)

	_, err = c.Login(ctx, &LoginRequest{Username: "bob"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	stream, err := c.Sync(ctx)
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	b, err := c.Marshal(&ClientFrame{Type: FrameSubscribe, RequestID: "x", After: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","requestId":"x","after":7}`, string(b))

	var f ClientFrame
	require.NoError(t, c.Unmarshal(b, &f))
	assert.EqualValues(t, 7, f.After)
}
