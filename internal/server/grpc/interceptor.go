package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type ctxKey string

const vaultKeyKey ctxKey = "vaultKey"

func vaultKeyFromContext(ctx context.Context) (models.VaultKey, bool) {
	k, ok := ctx.Value(vaultKeyKey).(models.VaultKey)
	return k, ok
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "unary call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

// sessionInterceptor authenticates the sync stream from the "q" metadata
// value and binds the stream to the vault it names.
func (s *GRPCServer) sessionInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if info.FullMethod != pb.SyncFullMethod {
		return handler(srv, ss)
	}

	var q string
	if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
		if values := md.Get(pb.MetadataSession); len(values) > 0 {
			q = values[0]
		}
	}
	if q == "" {
		return status.Error(codes.Unauthenticated, "missing session")
	}

	sess, err := pb.DecodeSession(q)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	userID, err := s.users.Authenticate(sess.Token)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	key := models.VaultKey{Namespace: sess.Namespace, UserID: userID, PublicKey: sess.PublicKey}
	ctx := context.WithValue(ss.Context(), vaultKeyKey, key)
	// replication and storage logs of this stream carry the caller
	ctx = logging.ContextWith(ctx, "user", userID, "device", cryptox.PublicKeyHash(sess.PublicKey))
	return handler(srv, &boundStream{ServerStream: ss, ctx: ctx})
}

type boundStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (b *boundStream) Context() context.Context { return b.ctx }
