// Package services contains application services for the vaultsync client.
// This file defines the authentication service: online/offline login,
// register, session restore and logout.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server, persist the session and
//     the data needed for offline login.
//   - OfflineLogin: verify credentials against locally cached data.
//   - Register: create a new user on the server.
//   - Restore: load a persisted session into the client.
//   - Logout: forget the session and the cached credentials.
//
// All methods honor context cancellation/timeouts.
type AuthService interface {
	OnlineLogin(ctx context.Context, username string, password []byte) error
	OfflineLogin(ctx context.Context, username string, password []byte) error
	Register(ctx context.Context, username string, password []byte) error
	Restore(ctx context.Context) (string, bool, error)
	Logout(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// authService is backed by the account RPCs and the local metadata store.
// Token pairs are written through whenever the client receives new ones,
// refreshes included.
type authService struct {
	client client.Accounts
	meta   metadata.Repository
	logger logging.Logger
}

func NewAuthService(c client.Accounts, meta metadata.Repository, logger logging.Logger) AuthService {
	a := &authService{client: c, meta: meta, logger: logger.With("module", "auth")}
	c.OnTokens(a.saveTokens)
	return a
}

func (a *authService) saveTokens(access, refresh string) {
	ctx := context.Background()
	var err error
	if access == "" && refresh == "" {
		if err = a.meta.Delete(ctx, metadata.KeyAccessToken); err == nil {
			err = a.meta.Delete(ctx, metadata.KeyRefreshToken)
		}
	} else if err = a.meta.Set(ctx, metadata.KeyAccessToken, []byte(access)); err == nil {
		err = a.meta.Set(ctx, metadata.KeyRefreshToken, []byte(refresh))
	}
	if err != nil {
		a.logger.Warn(ctx, "session not persisted", "err", err)
	}
}

// OfflineLogin derives the master key from the password and the locally
// cached salt and compares its verifier with the cached one.
func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) error {
	savedUsername, ok, err := a.meta.Get(ctx, metadata.KeyUsername)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no cached credentials: %w", common.ErrorNotFound)
	}
	if string(savedUsername) != username {
		return client.ErrUnauthorized
	}
	salt, _, err := a.meta.Get(ctx, metadata.KeySalt)
	if err != nil {
		return err
	}
	verifier, _, err := a.meta.Get(ctx, metadata.KeyVerifier)
	if err != nil {
		return err
	}

	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)
	if !cryptox.EqualMAC(verifier, cryptox.MakeVerifier(key)) {
		return client.ErrUnauthorized
	}
	return nil
}

// OnlineLogin authenticates against the server and caches the username,
// salt and verifier for offline login.
func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) error {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return fmt.Errorf("get salt error: %w", err)
	}

	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)
	verifier := cryptox.MakeVerifier(key)

	if err := a.client.Login(ctx, username, verifier); err != nil {
		return fmt.Errorf("login error: %w", err)
	}

	for k, v := range map[string][]byte{
		metadata.KeyUsername: []byte(username),
		metadata.KeySalt:     salt,
		metadata.KeyVerifier: verifier,
	} {
		if err := a.meta.Set(ctx, k, v); err != nil {
			return fmt.Errorf("offline data saving error: %w", err)
		}
	}
	a.logger.Info(ctx, "logged in", "user", username)
	return nil
}

// Register creates a new account on the server with a random salt and the
// verifier of the password-derived master key.
func (a *authService) Register(ctx context.Context, username string, password []byte) error {
	salt := common.GenerateRandByteArray(32)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	return a.client.Register(ctx, username, salt, cryptox.MakeVerifier(key))
}

// Restore hands a persisted token pair to the client and returns the user
// it belongs to.
func (a *authService) Restore(ctx context.Context) (string, bool, error) {
	username, ok, err := a.meta.Get(ctx, metadata.KeyUsername)
	if err != nil || !ok {
		return "", false, err
	}
	access, _, err := a.meta.Get(ctx, metadata.KeyAccessToken)
	if err != nil {
		return "", false, err
	}
	refresh, _, err := a.meta.Get(ctx, metadata.KeyRefreshToken)
	if err != nil {
		return "", false, err
	}
	if len(refresh) == 0 {
		return string(username), false, nil
	}
	a.client.SetTokens(string(access), string(refresh))
	return string(username), true, nil
}

// Logout drops the session and the cached credentials.
func (a *authService) Logout(ctx context.Context) error {
	a.client.SetTokens("", "")
	for _, k := range []string{metadata.KeyUsername, metadata.KeySalt, metadata.KeyVerifier} {
		if err := a.meta.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}
