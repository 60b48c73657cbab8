package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
)

func newDevicesCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"dev"},
		Short:   "Show and manage the devices of this namespace",
		Args:    cobra.NoArgs,
		RunE:    r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.ListDevices(ctx) }),
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the device roster with the server",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.RefreshDevices(ctx) }),
	}

	note := &cobra.Command{
		Use:   "note <public-key> <note>",
		Short: "Set the note of a device",
		Args:  cobra.ExactArgs(2),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			return a.SetDeviceNote(ctx, args[0], args[1])
		}),
	}

	add := &cobra.Command{
		Use:   "add <public-key> [note]",
		Short: "Add another device by its public key",
		Args:  cobra.RangeArgs(1, 2),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			n := ""
			if len(args) > 1 {
				n = args[1]
			}
			return a.AddDevice(ctx, args[0], n)
		}),
	}

	var yes bool
	destroy := &cobra.Command{
		Use:   "destroy <public-key>",
		Short: "Schedule the deletion of a device vault on the server",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			return a.DestroyDevice(ctx, args[0], yes)
		}),
	}
	destroy.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	status := &cobra.Command{
		Use:   "destroy-status <public-key>",
		Short: "Show a pending vault deletion",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			return a.DestroyStatus(ctx, args[0])
		}),
	}

	cmd.AddCommand(refresh, note, add, destroy, status)
	return cmd
}

func (a *App) ListDevices(ctx context.Context) error {
	list, err := a.identity.PublicKeys(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No devices known. Run 'vaultsync devices refresh'.")
		return nil
	}
	self, _ := a.identity.PublicKey(ctx)
	printTable(a.out, []column{
		{Header: "", Width: 1},
		{Header: "DEVICE", Width: 16},
		{Header: "NOTE", Width: 20},
		{Header: "LAST SYNC", Width: 16},
		{Header: "SYNCS", Width: 6},
		{Header: "STORAGE"},
	}, deviceRows(list, self))
	return nil
}

func deviceRows(list []*models.Device, self string) [][]string {
	rows := make([][]string, 0, len(list))
	for _, d := range list {
		marker := ""
		if d.PublicKey == self {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			cryptox.PublicKeyHash(d.PublicKey)[:16],
			d.Note,
			formatWhen(d.LastSyncedAt),
			fmt.Sprint(d.SyncCount),
			formatUsage(d.UsedStorageSize, d.MaxStorageSize),
		})
	}
	return rows
}

func (a *App) RefreshDevices(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if _, err := a.identity.SyncPublicKeys(ctx, a.config.Namespace); err != nil {
		return err
	}
	return a.ListDevices(ctx)
}

func (a *App) AddDevice(ctx context.Context, publicKey, note string) error {
	if _, err := a.identity.UpsertPublicKey(ctx, publicKey, note); err != nil {
		return err
	}
	fmt.Fprintln(a.out, okStyle.Render("Device added; it receives entries after the next sync"))
	return nil
}

func (a *App) SetDeviceNote(ctx context.Context, publicKey, note string) error {
	if _, err := a.identity.UpdatePublicKey(ctx, publicKey, note); err != nil {
		return err
	}
	if a.isLoggedIn() {
		if _, err := a.identity.SyncPublicKey(ctx, a.config.Namespace, publicKey); err != nil {
			a.logger.Warn(ctx, "note not pushed", "err", err)
			fmt.Fprintln(a.out, warnStyle.Render("Saved locally; the server will get it on the next sync"))
			return nil
		}
	}
	fmt.Fprintln(a.out, okStyle.Render("Note saved"))
	return nil
}

func (a *App) DestroyDevice(ctx context.Context, publicKey string, yes bool) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if !yes {
		sure, err := Confirm(a.reader, "Delete the server vault of this device after the grace period?", a.out)
		if err != nil {
			return err
		}
		if !sure {
			return errCancelled
		}
	}
	if err := a.vaults.Destroy(ctx, a.config.Namespace, publicKey); err != nil {
		return err
	}
	// stop listing the peer, or the next roster sync would advertise it again
	if self, _ := a.identity.PublicKey(ctx); publicKey != self {
		if err := a.identity.DeletePublicKey(ctx, publicKey); err != nil {
			return err
		}
	}
	return a.DestroyStatus(ctx, publicKey)
}

func (a *App) DestroyStatus(ctx context.Context, publicKey string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	st, err := a.vaults.DestroyStatus(ctx, a.config.Namespace, publicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Status:"), st.Status)
	fmt.Fprintf(a.out, "%s %s (%s)\n", headerStyle.Render("Delete after:"),
		st.DeleteAfter.Local().Format(time.DateTime), formatWhen(&st.DeleteAfter))
	fmt.Fprintln(a.out, mutedStyle.Render("Connecting with this device before then cancels the deletion."))
	return nil
}
