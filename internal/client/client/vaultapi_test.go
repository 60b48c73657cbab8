package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

type staticTokens struct {
	token     string
	refreshed string
	calls     int
	err       error
}

func (s *staticTokens) AccessToken() string { return s.token }

func (s *staticTokens) Refresh(context.Context) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.token = s.refreshed
	return nil
}

func TestVaultClient_RefreshesOnUnauthorized(t *testing.T) {
	var seen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, pb.EncodeNamespaceKey("notes", "pk"), r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(pb.SyncStats{UsedStorageSize: 10, MaxStorageSize: 20})
	}))
	defer ts.Close()

	tokens := &staticTokens{token: "stale", refreshed: "fresh"}
	vc := NewVaultClient(ts.URL, tokens, ts.Client())

	stats, err := vc.Stats(context.Background(), "notes", "pk")
	require.NoError(t, err)
	assert.EqualValues(t, 10, stats.UsedStorageSize)
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seen)
}

func TestVaultClient_RefreshFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	tokens := &staticTokens{token: "stale", err: common.ErrTokenExpired}
	err := NewVaultClient(ts.URL, tokens, ts.Client()).UpdateNote(context.Background(), "notes", "pk", "x")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestVaultClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "quota",
			status: http.StatusForbidden,
			body:   pb.ErrorBody{Error: "too many devices", Code: 4001, Limit: 2, Current: 3},
			check: func(t *testing.T, err error) {
				var q *QuotaExceededError
				require.ErrorAs(t, err, &q)
				assert.Equal(t, 4001, q.Code)
				assert.EqualValues(t, 3, q.Current)
				assert.Equal(t, "too many devices", q.Message)
			},
		},
		{
			name:   "forbidden without code",
			status: http.StatusForbidden,
			body:   pb.ErrorBody{Error: "no"},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnauthorized) },
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "4"},
			check: func(t *testing.T, err error) {
				var tm *TooManyRequestsError
				require.ErrorAs(t, err, &tm)
				assert.EqualValues(t, 4e9, tm.RetryAfter)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, common.ErrorNotFound) },
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, common.ErrorBadRequest) },
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnavailable) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				if tt.body != nil {
					_ = json.NewEncoder(w).Encode(tt.body)
				}
			}))
			defer ts.Close()

			_, err := NewVaultClient(ts.URL, &staticTokens{token: "t"}, ts.Client()).
				Register(context.Background(), "notes", "", []pb.RegisterItem{{PublicKey: "pk"}})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestVaultClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := NewVaultClient(url, nil, nil).Destroy(context.Background(), "notes", "pk")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, Retryable(err))
}
