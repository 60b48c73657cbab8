package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrClosed       = errors.New("connection closed")
)

// QuotaExceededError is a usage limit violation reported by the server.
// Code is 4001 (devices), 4002 (vaults) or 4003 (storage).
type QuotaExceededError struct {
	Code    int
	Limit   int64
	Current int64
	Message string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded (code %d): %d of %d", e.Code, e.Current, e.Limit)
}

// TooManyRequestsError asks the caller to retry after RetryAfter.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// WriteTimeoutError means a write was not acknowledged in time. The write
// may or may not have been applied; resending is safe.
type WriteTimeoutError struct {
	Timeout time.Duration
}

func (e *WriteTimeoutError) Error() string {
	return fmt.Sprintf("write not acknowledged within %s", e.Timeout)
}

// Retryable reports whether err is a transient condition worth retrying
// with backoff.
func Retryable(err error) bool {
	var tooMany *TooManyRequestsError
	var timeout *WriteTimeoutError
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrClosed) ||
		errors.As(err, &tooMany) || errors.As(err, &timeout)
}

// mapError converts a gRPC error into the client's error vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return fromStatus(st)
}

func fromStatus(st *status.Status) error {
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.Unauthenticated, codes.PermissionDenied:
		if strings.Contains(st.Message(), common.ErrTokenExpired.Error()) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, common.ErrTokenExpired)
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.ResourceExhausted:
		return exhausted(st)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrorNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrorAlreadyExists)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrorBadRequest)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", ErrClosed, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", st.Err())
	}
}

func exhausted(st *status.Status) error {
	var retry time.Duration
	var quota *QuotaExceededError
	for _, d := range st.Details() {
		switch d := d.(type) {
		case *errdetails.RetryInfo:
			retry = d.GetRetryDelay().AsDuration()
		case *errdetails.ErrorInfo:
			if d.GetDomain() != pb.ErrorDomain || d.GetReason() != pb.ReasonUsageLimit {
				continue
			}
			md := d.GetMetadata()
			code, _ := strconv.Atoi(md[pb.MetaCode])
			limit, _ := strconv.ParseInt(md[pb.MetaLimit], 10, 64)
			current, _ := strconv.ParseInt(md[pb.MetaCurrent], 10, 64)
			quota = &QuotaExceededError{Code: code, Limit: limit, Current: current, Message: st.Message()}
		}
	}
	if quota != nil {
		return quota
	}
	return &TooManyRequestsError{RetryAfter: retry}
}
