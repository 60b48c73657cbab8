package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/syncer"
)

func newSyncCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull new entries and push pending ones, then exit",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.Sync(ctx) }),
	}
}

func newWatchCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the foreground and print status changes",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(func(ctx context.Context, a *App, _ []string) error { return a.Watch(ctx) }),
	}
}

// Sync runs one pass. While live sync is running in the background the
// pass is skipped; the engine already does the same work.
func (a *App) Sync(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if a.engine.Running() {
		fmt.Fprintln(a.out, "Live sync is running:", renderStatus(a.engine.Status()))
		return nil
	}
	before := a.engine.Status().Unreadable
	if err := a.entryService.Sync(ctx); err != nil {
		return err
	}
	pending, err := a.entryService.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, okStyle.Render("Sync complete"))
	if pending > 0 {
		fmt.Fprintln(a.out, warnStyle.Render(fmt.Sprintf("%d entries still pending", pending)))
	}
	if n := a.engine.Status().Unreadable - before; n > 0 {
		a.printUnreadable(n)
	}
	return nil
}

// printUnreadable reports entries this device could not decrypt. They were
// sealed for a key it does not hold, usually a previous identity.
func (a *App) printUnreadable(n int) {
	fmt.Fprintln(a.out, warnStyle.Render(fmt.Sprintf("%d entries could not be decrypted and were skipped", n)))
	for _, u := range a.engine.Unreadable() {
		fmt.Fprintf(a.out, "  %s #%d: %v\n", mutedStyle.Render(u.EntryID), u.Sequence, u.Err)
	}
}

// StartSync starts live sync in the background. It is a no-op when the
// engine is already running.
func (a *App) StartSync(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.engine.Start(ctx); err != nil && !errors.Is(err, syncer.ErrRunning) {
		return err
	}
	return nil
}

// Watch runs live sync until ctx is done or the engine stops on a fatal
// error, which is returned.
func (a *App) Watch(ctx context.Context) error {
	updates, stop := a.engine.Watch()
	defer stop()

	if err := a.StartSync(ctx); err != nil {
		return err
	}
	done := a.engine.Done()

	for {
		select {
		case st := <-updates:
			fmt.Fprintf(a.out, "%s %s\n", mutedStyle.Render(st.At.Format("15:04:05")), renderStatus(st))
		case <-done:
			if st := a.engine.Status(); st.State == syncer.StateError {
				return st.Err
			}
			return nil
		case <-ctx.Done():
			a.engine.Stop()
			return nil
		}
	}
}
