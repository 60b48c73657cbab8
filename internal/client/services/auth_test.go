package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/migrations"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

// ---- helpers ----

func setupMeta(t *testing.T) metadata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return metadata.NewSQLiteRepository(db)
}

func getMeta(t *testing.T, meta metadata.Repository, k string) []byte {
	t.Helper()
	v, ok, err := meta.Get(context.Background(), k)
	require.NoError(t, err)
	require.True(t, ok, k)
	return v
}

// ---- fake client ----

type fakeClient struct {
	CloseErr    error
	RegisterErr error
	GetSaltRet  []byte
	GetSaltErr  error
	LoginErr    error
	PingErr     error

	LastRegisterUser string
	LastRegisterSalt []byte
	LastRegisterKey  []byte
	LastLoginUser    string
	LastLoginKey     []byte

	access, refresh string
	onTokens        func(access, refresh string)
}

var _ client.Accounts = (*fakeClient)(nil)

func (f *fakeClient) Close() error { return f.CloseErr }

func (f *fakeClient) Register(ctx context.Context, username string, salt []byte, key []byte) error {
	f.LastRegisterUser = username
	f.LastRegisterSalt = append([]byte(nil), salt...)
	f.LastRegisterKey = append([]byte(nil), key...)
	return f.RegisterErr
}

func (f *fakeClient) GetSalt(ctx context.Context, username string) ([]byte, error) {
	return append([]byte(nil), f.GetSaltRet...), f.GetSaltErr
}

func (f *fakeClient) Login(ctx context.Context, username string, key []byte) error {
	f.LastLoginUser = username
	f.LastLoginKey = append([]byte(nil), key...)
	if f.LoginErr != nil {
		return f.LoginErr
	}
	f.SetTokens("access-1", "refresh-1")
	return nil
}

func (f *fakeClient) Refresh(ctx context.Context) error {
	f.SetTokens("access-2", "refresh-2")
	return nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.PingErr }

func (f *fakeClient) SetTokens(access, refresh string) {
	f.access, f.refresh = access, refresh
	if f.onTokens != nil {
		f.onTokens(access, refresh)
	}
}

func (f *fakeClient) OnTokens(fn func(access, refresh string)) { f.onTokens = fn }

func (f *fakeClient) AccessToken() string { return f.access }

// ---- tests ----

func seedOffline(t *testing.T, meta metadata.Repository, user, password string) {
	t.Helper()
	ctx := context.Background()
	salt := []byte("salty")
	ver := cryptox.MakeVerifier(cryptox.DeriveMasterKey([]byte(password), salt))
	require.NoError(t, meta.Set(ctx, metadata.KeyUsername, []byte(user)))
	require.NoError(t, meta.Set(ctx, metadata.KeySalt, salt))
	require.NoError(t, meta.Set(ctx, metadata.KeyVerifier, ver))
}

func TestOfflineLogin_NoLocalData(t *testing.T) {
	svc := NewAuthService(&fakeClient{}, setupMeta(t), logging.Discard())
	err := svc.OfflineLogin(context.Background(), "user@example.com", []byte("pass"))
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestOfflineLogin_UsernameMismatch_Unauthorized(t *testing.T) {
	meta := setupMeta(t)
	seedOffline(t, meta, "other", "p")
	svc := NewAuthService(&fakeClient{}, meta, logging.Discard())

	err := svc.OfflineLogin(context.Background(), "user", []byte("p"))
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestOfflineLogin_WrongPassword_Unauthorized(t *testing.T) {
	meta := setupMeta(t)
	seedOffline(t, meta, "user", "correct")
	svc := NewAuthService(&fakeClient{}, meta, logging.Discard())

	err := svc.OfflineLogin(context.Background(), "user", []byte("wrong"))
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestOfflineLogin_Success(t *testing.T) {
	meta := setupMeta(t)
	seedOffline(t, meta, "user", "pass")
	svc := NewAuthService(&fakeClient{}, meta, logging.Discard())

	require.NoError(t, svc.OfflineLogin(context.Background(), "user", []byte("pass")))
}

func TestOnlineLogin_GetSaltError_Wrapped(t *testing.T) {
	svc := NewAuthService(&fakeClient{GetSaltErr: errors.New("network down")}, setupMeta(t), logging.Discard())

	err := svc.OnlineLogin(context.Background(), "u", []byte("p"))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "get salt error:"))
}

func TestOnlineLogin_LoginError_Wrapped(t *testing.T) {
	svc := NewAuthService(&fakeClient{GetSaltRet: []byte("s"), LoginErr: errors.New("bad creds")}, setupMeta(t), logging.Discard())

	err := svc.OnlineLogin(context.Background(), "u", []byte("p"))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "login error:"))
}

func TestOnlineLogin_Success_PersistsSessionAndOfflineData(t *testing.T) {
	meta := setupMeta(t)
	fc := &fakeClient{GetSaltRet: []byte("salt")}
	svc := NewAuthService(fc, meta, logging.Discard())

	require.NoError(t, svc.OnlineLogin(context.Background(), "user", []byte("pass")))

	require.Equal(t, []byte("user"), getMeta(t, meta, metadata.KeyUsername))
	require.Equal(t, []byte("salt"), getMeta(t, meta, metadata.KeySalt))
	require.Equal(t, fc.LastLoginKey, getMeta(t, meta, metadata.KeyVerifier))
	require.Equal(t, []byte("access-1"), getMeta(t, meta, metadata.KeyAccessToken))
	require.Equal(t, []byte("refresh-1"), getMeta(t, meta, metadata.KeyRefreshToken))

	expected := cryptox.MakeVerifier(cryptox.DeriveMasterKey([]byte("pass"), []byte("salt")))
	require.Equal(t, expected, fc.LastLoginKey)

	// refreshed tokens are written through
	require.NoError(t, fc.Refresh(context.Background()))
	require.Equal(t, []byte("refresh-2"), getMeta(t, meta, metadata.KeyRefreshToken))

	require.NoError(t, svc.OfflineLogin(context.Background(), "user", []byte("pass")))
}

func TestRestoreAndLogout(t *testing.T) {
	ctx := context.Background()
	meta := setupMeta(t)
	fc := &fakeClient{GetSaltRet: []byte("salt")}
	svc := NewAuthService(fc, meta, logging.Discard())

	_, ok, err := svc.Restore(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.OnlineLogin(ctx, "user", []byte("pass")))

	other := &fakeClient{}
	user, ok, err := NewAuthService(other, meta, logging.Discard()).Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "user", user)
	require.Equal(t, "access-1", other.AccessToken())

	require.NoError(t, svc.Logout(ctx))
	require.Empty(t, fc.AccessToken())
	for _, k := range []string{metadata.KeyUsername, metadata.KeySalt, metadata.KeyVerifier, metadata.KeyAccessToken, metadata.KeyRefreshToken} {
		_, ok, err := meta.Get(ctx, k)
		require.NoError(t, err)
		require.False(t, ok, k)
	}
}

func TestRegister_DelegatesToClient(t *testing.T) {
	fc := &fakeClient{}
	svc := NewAuthService(fc, setupMeta(t), logging.Discard())

	require.NoError(t, svc.Register(context.Background(), "u", []byte("p")))
	require.Equal(t, "u", fc.LastRegisterUser)
	require.Len(t, fc.LastRegisterSalt, 32)
	require.NotEmpty(t, fc.LastRegisterKey)
}

func TestDelegatedErrorsPropagate(t *testing.T) {
	fc := &fakeClient{RegisterErr: errors.New("dup"), PingErr: errors.New("down"), CloseErr: errors.New("io")}
	svc := NewAuthService(fc, setupMeta(t), logging.Discard())

	require.Error(t, svc.Register(context.Background(), "u", []byte("p")))
	require.Error(t, svc.Ping(context.Background()))
	require.Error(t, svc.Close(context.Background()))
}
