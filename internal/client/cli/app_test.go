package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/clienttest"
	"github.com/dmitrijs2005/vaultsync/internal/client/config"
	"github.com/dmitrijs2005/vaultsync/internal/client/syncer"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

func testConfig(env *clienttest.Env) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DBPath = memoryDSN
	cfg.Namespace = "notes"
	cfg.PushInterval = 50 * time.Millisecond
	cfg.BackoffMin = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	if env != nil {
		cfg.ServerEndpointAddr = clienttest.Target
		cfg.ServerHTTPAddr = env.HTTP.URL
	}
	return cfg
}

func newTestApp(t *testing.T, env *clienttest.Env, in string) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts := []Option{WithIO(strings.NewReader(in), out), WithLogger(logging.Discard())}
	if env != nil {
		opts = append(opts, WithDialOptions(env.DialOptions()...), WithHTTPClient(env.HTTP.Client()))
	}
	a, err := NewApp(context.Background(), testConfig(env), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, out
}

// stubCredentials answers the username and password prompts.
func stubCredentials(t *testing.T, user, password string) {
	t.Helper()
	origText, origPass := getSimpleText, getPassword
	getSimpleText = func(*bufio.Reader, string, io.Writer) (string, error) {
		return user, nil
	}
	getPassword = func(io.Writer) ([]byte, error) {
		return []byte(password), nil
	}
	t.Cleanup(func() { getSimpleText, getPassword = origText, origPass })
}

func TestApp_RegisterLoginRecordSync(t *testing.T) {
	env := clienttest.Start(t)
	a, out := newTestApp(t, env, "")
	ctx := context.Background()
	stubCredentials(t, "alice", "correct horse")

	require.ErrorIs(t, a.Sync(ctx), client.ErrNotLoggedIn)

	require.NoError(t, a.Register(ctx))
	require.NoError(t, a.Login(ctx))
	assert.True(t, a.isLoggedIn())
	assert.Equal(t, ModeOnline, a.Mode())

	require.NoError(t, a.CreateIdentity(ctx, false))
	assert.Contains(t, out.String(), "Write these words down")
	assert.Error(t, a.CreateIdentity(ctx, false), "an existing identity needs --force")

	require.NoError(t, a.Record(ctx, "note.created", []string{"title=hi"}))
	require.NoError(t, a.Sync(ctx))
	assert.Contains(t, out.String(), "Sync complete")
	assert.NotContains(t, out.String(), "still pending")

	out.Reset()
	require.NoError(t, a.List(ctx, 0, 10))
	assert.Contains(t, out.String(), "note.created")
	assert.Contains(t, out.String(), "pushed")

	out.Reset()
	require.NoError(t, a.ListDevices(ctx))
	assert.Contains(t, out.String(), "*")

	a.identity.Wait()
	out.Reset()
	require.NoError(t, a.Audit(ctx, 10))
	assert.Contains(t, out.String(), "mnemonic_created")

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.isLoggedIn())
	assert.ErrorIs(t, a.Sync(ctx), client.ErrNotLoggedIn)
}

func TestApp_LiveSync(t *testing.T) {
	env := clienttest.Start(t)
	a, out := newTestApp(t, env, "")
	ctx := context.Background()
	stubCredentials(t, "bob", "pw")

	require.NoError(t, a.Register(ctx))
	require.NoError(t, a.Login(ctx))
	require.NoError(t, a.CreateIdentity(ctx, false))

	require.NoError(t, a.StartSync(ctx))
	require.NoError(t, a.StartSync(ctx), "starting twice is a no-op")
	require.Eventually(t, func() bool {
		return a.engine.Status().State == syncer.StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Sync(ctx))
	assert.Contains(t, out.String(), "Live sync is running")

	require.NoError(t, a.Record(ctx, "ping", []string{"n=1"}))
	require.Eventually(t, func() bool {
		n, err := a.entryService.PendingCount(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.ClearIdentity(ctx, true))
	assert.False(t, a.engine.Running())
}

func TestApp_DestroyDeviceForgetsPeer(t *testing.T) {
	env := clienttest.Start(t)
	a, out := newTestApp(t, env, "")
	ctx := context.Background()
	stubCredentials(t, "dave", "pw")

	require.NoError(t, a.Register(ctx))
	require.NoError(t, a.Login(ctx))
	require.NoError(t, a.CreateIdentity(ctx, false))

	kp, err := cryptox.KeyPairFromSeed(common.GenerateRandByteArray(32))
	require.NoError(t, err)
	peer := cryptox.EncodePublicKey(kp.Public)
	require.NoError(t, a.AddDevice(ctx, peer, "phone"))
	require.NoError(t, a.RefreshDevices(ctx))

	out.Reset()
	require.NoError(t, a.DestroyDevice(ctx, peer, true))
	assert.Contains(t, out.String(), "scheduled")

	require.NoError(t, a.RefreshDevices(ctx))
	keys, err := a.identity.RecipientKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, peer)

	st, err := a.vaults.DestroyStatus(ctx, a.config.Namespace, peer)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", st.Status, "a roster refresh from this device does not cancel it")
}

func TestApp_LoginWithoutServer(t *testing.T) {
	out := &bytes.Buffer{}
	down := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	a, err := NewApp(context.Background(), testConfig(nil),
		WithIO(strings.NewReader(""), out), WithLogger(logging.Discard()), WithDialOptions(down))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	stubCredentials(t, "carol", "pw")

	err = a.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline login unsuccessful")
	assert.Equal(t, ModeDisabled, a.Mode())
	assert.Contains(t, out.String(), "Server unavailable")
}

func TestApp_IdentityImportAndReveal(t *testing.T) {
	a, out := newTestApp(t, nil, "y\n")
	ctx := context.Background()

	require.NoError(t, a.CreateIdentity(ctx, false))
	m, ok, err := a.identity.Mnemonic(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	pk, err := a.identity.PublicKey(ctx)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, a.RevealIdentity(ctx))
	assert.Contains(t, out.String(), m.Reveal())

	require.NoError(t, a.ClearIdentity(ctx, true))
	out.Reset()
	require.NoError(t, a.IdentityStatus(ctx))
	assert.Contains(t, out.String(), "No identity")

	orig := getSimpleText
	getSimpleText = func(*bufio.Reader, string, io.Writer) (string, error) {
		return m.Reveal(), nil
	}
	t.Cleanup(func() { getSimpleText = orig })

	require.NoError(t, a.ImportIdentity(ctx))
	got, err := a.identity.PublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, pk, got, "the same phrase restores the same keys")
}

func TestApp_RevealCancelled(t *testing.T) {
	a, _ := newTestApp(t, nil, "n\n")
	ctx := context.Background()
	require.NoError(t, a.CreateIdentity(ctx, false))
	assert.ErrorIs(t, a.RevealIdentity(ctx), errCancelled)
}

func TestRootCommand_RecordListShow(t *testing.T) {
	cfg := testConfig(nil)
	root, closeApp := NewRootCommand(cfg, WithLogger(logging.Discard()))
	t.Cleanup(func() { _ = closeApp() })

	// the App opened by the first command keeps its writer
	var buf bytes.Buffer
	run := func(args ...string) string {
		buf.Reset()
		root.SetOut(&buf)
		root.SetErr(&buf)
		root.SetIn(strings.NewReader(""))
		root.SetArgs(args)
		require.NoError(t, root.ExecuteContext(context.Background()), strings.Join(args, " "))
		return buf.String()
	}

	out := run("record", "--db", memoryDSN, "task.done", "name=write tests")
	assert.Contains(t, out, "Recorded")
	id := strings.TrimSpace(out[strings.LastIndex(out, " "):])

	out = run("list", "--limit", "5")
	assert.Contains(t, out, "task.done")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "1 entries waiting to be pushed")

	out = run("show", id)
	assert.Contains(t, out, `"name": "write tests"`)
}

func TestRootCommand_Version(t *testing.T) {
	root, closeApp := NewRootCommand(testConfig(nil))
	t.Cleanup(func() { _ = closeApp() })

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Build version:")
}
