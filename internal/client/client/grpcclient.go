package client

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

type sessionKey struct{}

// GRPCClient talks to the account RPCs and opens sync streams. It keeps
// the current token pair and rotates it on demand.
type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      pb.SyncServiceClient

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onTokens     func(access, refresh string)
}

// NewGRPCClient dials lazily; extra options are appended to the defaults.
func NewGRPCClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(c.sessionInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = pb.NewSyncServiceClient(conn)
	return c, nil
}

// sessionInterceptor attaches the sync session, built with the current
// access token, to streams opened through OpenSync.
func (c *GRPCClient) sessionInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	if sess, ok := ctx.Value(sessionKey{}).(pb.Session); ok {
		sess.Token = c.AccessToken()
		ctx = metadata.AppendToOutgoingContext(ctx, pb.MetadataSession, pb.EncodeSession(sess))
	}
	return streamer(ctx, desc, cc, method, opts...)
}

// OnTokens registers a callback invoked whenever the token pair changes.
func (c *GRPCClient) OnTokens(fn func(access, refresh string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTokens = fn
}

func (c *GRPCClient) SetTokens(access, refresh string) {
	c.mu.Lock()
	c.accessToken, c.refreshToken = access, refresh
	fn := c.onTokens
	c.mu.Unlock()
	if fn != nil {
		fn(access, refresh)
	}
}

func (c *GRPCClient) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Register(ctx context.Context, userName string, salt []byte, key []byte) error {
	_, err := c.client.RegisterUser(ctx, &pb.RegisterUserRequest{Username: userName, Salt: salt, Verifier: key})
	return mapError(err)
}

func (c *GRPCClient) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	resp, err := c.client.GetSalt(ctx, &pb.GetSaltRequest{Username: userName})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Salt, nil
}

func (c *GRPCClient) Login(ctx context.Context, userName string, key []byte) error {
	resp, err := c.client.Login(ctx, &pb.LoginRequest{Username: userName, VerifierCandidate: key})
	if err != nil {
		return mapError(err)
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

// Refresh exchanges the refresh token for a new pair.
func (c *GRPCClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()
	if refresh == "" {
		return ErrNotLoggedIn
	}

	resp, err := c.client.RefreshToken(ctx, &pb.RefreshTokenRequest{RefreshToken: refresh})
	if err != nil {
		return mapError(err)
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(ctx, &pb.PingRequest{})
	if err != nil {
		return mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

// OpenSync opens the realtime channel of one device vault. The stream
// lives until ctx is cancelled or the Conn is closed.
func (c *GRPCClient) OpenSync(ctx context.Context, namespace, publicKey string, writeTimeout time.Duration) (*Conn, error) {
	if c.AccessToken() == "" {
		return nil, ErrNotLoggedIn
	}
	ctx, cancel := context.WithCancel(ctx)
	ctx = context.WithValue(ctx, sessionKey{}, pb.Session{Namespace: namespace, PublicKey: publicKey})

	stream, err := c.client.Sync(ctx)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	return newConn(stream, cancel, writeTimeout), nil
}
