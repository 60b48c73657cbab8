// Package grpc exposes account operations and the realtime sync stream over
// gRPC.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/replication"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
)

// Accounts is the part of services.UserService the server uses.
type Accounts interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifierCandidate []byte) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Authenticate(token string) (string, error)
}

// Replicator is the part of replication.Service the sync stream uses.
type Replicator interface {
	Open(ctx context.Context, key models.VaultKey) (int64, error)
	Write(ctx context.Context, key models.VaultKey, entries []replication.OutgoingEntry) (*replication.WriteResult, error)
	Entries(ctx context.Context, key models.VaultKey, after int64, limit int) ([]*models.PersistedEntry, error)
	Changes(ctx context.Context, key models.VaultKey, after int64) (*replication.Feed, error)
}

type GRPCServer struct {
	pb.UnimplementedSyncServiceServer
	address     string
	users       Accounts
	replication Replicator
	logger      logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, users Accounts, r Replicator) *GRPCServer {
	return &GRPCServer{
		address:     address,
		logger:      l.With("module", "grpc_server"),
		users:       users,
		replication: r,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingInterceptor),
		grpc.ChainStreamInterceptor(s.sessionInterceptor),
	)
	pb.RegisterSyncServiceServer(srv, s)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping gRPC server...")
			srv.GracefulStop()
		case <-stopped:
		}
	}()

	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
