package grpc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/replication"
	"github.com/dmitrijs2005/vaultsync/internal/server/usage"
)

// toStatus maps a service error to a gRPC status. Quota and rate-limit
// statuses carry errdetails so clients can act on them.
func toStatus(err error) *status.Status {
	var tooMany *replication.TooManyRequestsError
	if ue, ok := usage.AsUsageCheckError(err); ok {
		return withDetails(status.New(codes.ResourceExhausted, ue.Error()), &errdetails.ErrorInfo{
			Reason: pb.ReasonUsageLimit,
			Domain: pb.ErrorDomain,
			Metadata: map[string]string{
				pb.MetaCode:    strconv.Itoa(int(ue.Code)),
				pb.MetaLimit:   strconv.FormatInt(ue.Limit, 10),
				pb.MetaCurrent: strconv.FormatInt(ue.Current, 10),
			},
		})
	}

	switch {
	case errors.As(err, &tooMany):
		return withDetails(status.New(codes.ResourceExhausted, tooMany.Error()),
			&errdetails.ErrorInfo{Reason: pb.ReasonRateLimited, Domain: pb.ErrorDomain},
			&errdetails.RetryInfo{RetryDelay: durationpb.New(tooMany.RetryAfter)},
		)
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return status.New(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrorBadRequest):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	default:
		return status.New(codes.Internal, "internal error")
	}
}

func withDetails(st *status.Status, details ...protoadapt.MessageV1) *status.Status {
	if ds, err := st.WithDetails(details...); err == nil {
		return ds
	}
	return st
}

// closesStream reports whether err ends the sync stream. Bad requests and
// rate limiting are answered with an error frame and the stream stays up.
func closesStream(err error) bool {
	var tooMany *replication.TooManyRequestsError
	return !errors.As(err, &tooMany) && !errors.Is(err, common.ErrorBadRequest)
}

func (s *GRPCServer) statusError(ctx context.Context, err error) error {
	st := toStatus(err)
	if st.Code() == codes.Internal {
		s.logger.Error(ctx, "request failed", "err", err)
	}
	return st.Err()
}
