package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func newRegisterCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account on the server",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.Register(ctx) }),
	}
}

func newLoginCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in; falls back to the cached credentials when offline",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.Login(ctx) }),
	}
}

func newLogoutCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and the cached credentials",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.Logout(ctx) }),
	}
}

// Register prompts for a username and password and creates the account.
// The password is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.authService.Register(ctx, userName, password); err != nil {
		return err
	}

	fmt.Fprintln(a.out, okStyle.Render("Success!"))
	return nil
}

// Login prompts for credentials and tries an online login first. When the
// server is unavailable it falls back to the cached credentials, which
// unlock local use without a session.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	err = a.authService.OnlineLogin(ctx, userName, password)
	switch {
	case err == nil:
		a.userName, a.loggedIn = userName, true
		a.setMode(ModeOnline)
		fmt.Fprintln(a.out, okStyle.Render("Login successful"))
		return nil

	case errors.Is(err, client.ErrUnavailable):
		fmt.Fprintln(a.out, warnStyle.Render("Server unavailable, trying offline login..."))
		if oerr := a.authService.OfflineLogin(ctx, userName, password); oerr != nil {
			a.setMode(ModeDisabled)
			return fmt.Errorf("offline login unsuccessful: %w", oerr)
		}
		a.userName = userName
		a.setMode(ModeOffline)
		fmt.Fprintln(a.out, warnStyle.Render("Offline login successful"))
		return nil

	default:
		return fmt.Errorf("login unsuccessful: %w", err)
	}
}

// Logout stops sync and drops the session and cached credentials. The
// identity and the journal stay on the device.
func (a *App) Logout(ctx context.Context) error {
	a.engine.Stop()
	if err := a.authService.Logout(ctx); err != nil {
		return err
	}
	a.userName, a.loggedIn = "", false
	fmt.Fprintln(a.out, "Logged out")
	return nil
}
