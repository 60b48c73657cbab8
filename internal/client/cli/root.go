package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/buildinfo"
	"github.com/dmitrijs2005/vaultsync/internal/client/config"
)

// runner opens the App on first use so that help and version never touch
// the database.
type runner struct {
	cfg  *config.Config
	opts []Option
	app  *App
}

func (r *runner) open(cmd *cobra.Command) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	opts := append([]Option{WithIO(cmd.InOrStdin(), cmd.OutOrStdout())}, r.opts...)
	app, err := NewApp(cmd.Context(), r.cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.app = app
	return app, nil
}

func (r *runner) close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// withApp adapts an App method to a cobra RunE.
func (r *runner) withApp(fn func(ctx context.Context, a *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := r.open(cmd)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), a, args)
	}
}

// NewRootCommand builds the command tree over cfg. Flags registered here
// override values loaded from defaults and the config file.
func NewRootCommand(cfg *config.Config, opts ...Option) (*cobra.Command, func() error) {
	r := &runner{cfg: cfg, opts: opts}

	root := &cobra.Command{
		Use:   "vaultsync",
		Short: "Local-first encrypted event journal with multi-device sync",
		Long: `vaultsync records events into a local journal and keeps it in sync
across your devices. Entries are encrypted on the device; the server only
stores ciphertext.

Running 'vaultsync' with no subcommand opens the interactive shell.`,
		SilenceUsage: true,
		RunE:         r.withApp(runShell),
	}
	config.BindFlags(root.PersistentFlags(), cfg)

	root.AddCommand(
		newVersionCommand(),
		newRegisterCommand(r),
		newLoginCommand(r),
		newLogoutCommand(r),
		newIdentityCommand(r),
		newDevicesCommand(r),
		newRecordCommand(r),
		newListCommand(r),
		newShowCommand(r),
		newSyncCommand(r),
		newWatchCommand(r),
		newAuditCommand(r),
		newShellCommand(r),
	)
	return root, r.close
}

// Execute runs the command line against cfg.
func Execute(ctx context.Context, cfg *config.Config) error {
	root, closeApp := NewRootCommand(cfg)
	defer closeApp()
	return root.ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}
