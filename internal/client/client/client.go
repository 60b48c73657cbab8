package client

import (
	"context"
	"time"

	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

// Accounts is the account part of the server API.
type Accounts interface {
	Register(ctx context.Context, username string, salt []byte, key []byte) error
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, key []byte) error
	Refresh(ctx context.Context) error
	Ping(ctx context.Context) error
	SetTokens(access, refresh string)
	OnTokens(fn func(access, refresh string))
	AccessToken() string
	Close() error
}

// Dialer opens sync streams.
type Dialer interface {
	OpenSync(ctx context.Context, namespace, publicKey string, writeTimeout time.Duration) (*Conn, error)
}

// Vaults is the vault HTTP API.
type Vaults interface {
	Register(ctx context.Context, namespace, self string, items []pb.RegisterItem) ([]pb.SyncPublicKeyItem, error)
	Stats(ctx context.Context, namespace, publicKey string) (*pb.SyncStats, error)
	UpdateNote(ctx context.Context, namespace, publicKey, note string) error
	Destroy(ctx context.Context, namespace, publicKey string) error
	DestroyStatus(ctx context.Context, namespace, publicKey string) (*pb.DestroyStatus, error)
}

var (
	_ Accounts = (*GRPCClient)(nil)
	_ Dialer   = (*GRPCClient)(nil)
	_ Vaults   = (*VaultClient)(nil)
)
