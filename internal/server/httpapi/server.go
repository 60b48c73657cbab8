// Package httpapi serves the vault HTTP API: device registration, vault
// stats, notes and deferred destruction.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/logging"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/ratelimit"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/services"
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Vaults is the part of services.VaultService the API exposes.
type Vaults interface {
	Register(ctx context.Context, namespace, userID, self string, items []services.RegisterItem) ([]*models.SyncInfo, error)
	Stats(ctx context.Context, key models.VaultKey) (*models.SyncStats, error)
	UpdateNote(ctx context.Context, key models.VaultKey, note string) error
	Destroy(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error)
	DestroyStatus(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error)
}

type Server struct {
	address string
	mux     *http.ServeMux
	auth    Authenticator
	vaults  Vaults
	limiter *ratelimit.Keyed
	logger  logging.Logger
}

// NewServer builds the API. Each user may make perSecond requests with the
// given burst; a non-positive rate disables limiting.
func NewServer(address string, l logging.Logger, auth Authenticator, vaults Vaults, perSecond float64, burst int) *Server {
	s := &Server{
		address: address,
		mux:     http.NewServeMux(),
		auth:    auth,
		vaults:  vaults,
		limiter: ratelimit.New(perSecond, burst, 10*time.Minute),
		logger:  l.With("module", "http_api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	protected := func(h http.HandlerFunc) http.Handler {
		return s.authRequired(s.rateLimited(h))
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("PUT "+pb.PathRegister, protected(s.handleRegister))
	s.mux.Handle("GET "+pb.PathStats, protected(s.handleStats))
	s.mux.Handle("PATCH "+pb.PathUpdate, protected(s.handleUpdate))
	s.mux.Handle("DELETE "+pb.PathDestroy, protected(s.handleDestroy))
	s.mux.Handle("GET "+pb.PathDestroy, protected(s.handleDestroyStatus))
}

func (s *Server) Handler() http.Handler { return s.logRequests(s.mux) }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
