package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/identity"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
)

var errCancelled = errors.New("cancelled")

func newIdentityCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identity",
		Aliases: []string{"id"},
		Short:   "Manage the recovery phrase and device keys",
		Args:    cobra.NoArgs,
		RunE:    r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.IdentityStatus(ctx) }),
	}

	var force bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Generate a new 12-word recovery phrase",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(ctx context.Context, a *App, _ []string) error {
			return a.CreateIdentity(ctx, force)
		}),
	}
	create.Flags().BoolVar(&force, "force", false, "replace an existing identity")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Restore an identity from its recovery phrase",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.ImportIdentity(ctx) }),
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Reveal the recovery phrase",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.RevealIdentity(ctx) }),
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Stop sync and wipe the identity and the device roster",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(ctx context.Context, a *App, _ []string) error {
			return a.ClearIdentity(ctx, yes)
		}),
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(create, importCmd, show, clearCmd)
	return cmd
}

func (a *App) IdentityStatus(ctx context.Context) error {
	pk, err := a.identity.PublicKey(ctx)
	if errors.Is(err, identity.ErrNoIdentity) {
		fmt.Fprintln(a.out, mutedStyle.Render("No identity. Run 'vaultsync identity create' or 'vaultsync identity import'."))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Public key:"), pk)
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Address:   "), cryptox.PublicKeyHash(pk))
	return nil
}

func (a *App) CreateIdentity(ctx context.Context, force bool) error {
	if _, err := a.identity.PublicKey(ctx); err == nil && !force {
		return errors.New("an identity already exists; use --force to replace it")
	} else if err != nil && !errors.Is(err, identity.ErrNoIdentity) {
		return err
	}

	a.engine.Stop()
	m, err := a.identity.CreateMnemonic(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, warnStyle.Render("Write these words down. They are the only way to restore this identity:"))
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "  "+okStyle.Render(m.Reveal()))
	fmt.Fprintln(a.out)
	return a.IdentityStatus(ctx)
}

func (a *App) ImportIdentity(ctx context.Context) error {
	phrase, err := getSimpleText(a.reader, "Enter the recovery phrase", a.out)
	if err != nil {
		return err
	}
	m, err := identity.ParseMnemonic(phrase)
	if err != nil {
		return err
	}
	a.engine.Stop()
	if err := a.identity.ImportFromMnemonic(ctx, m); err != nil {
		return err
	}
	fmt.Fprintln(a.out, okStyle.Render("Identity imported"))
	return a.IdentityStatus(ctx)
}

func (a *App) RevealIdentity(ctx context.Context) error {
	m, ok, err := a.identity.Mnemonic(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return identity.ErrNoIdentity
	}
	sure, err := Confirm(a.reader, "Print the recovery phrase to the terminal?", a.out)
	if err != nil {
		return err
	}
	if !sure {
		return errCancelled
	}
	fmt.Fprintln(a.out, m.Reveal())
	return nil
}

func (a *App) ClearIdentity(ctx context.Context, yes bool) error {
	if !yes {
		sure, err := Confirm(a.reader, "Wipe the identity? Without the recovery phrase it cannot be restored.", a.out)
		if err != nil {
			return err
		}
		if !sure {
			return errCancelled
		}
	}
	if err := a.identity.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Identity cleared")
	return nil
}
