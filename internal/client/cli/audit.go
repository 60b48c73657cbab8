package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCommand(r *runner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the identity audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(ctx context.Context, a *App, _ []string) error {
			return a.Audit(ctx, limit)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}

func (a *App) Audit(ctx context.Context, limit int) error {
	list, err := a.repos.Audit.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No audit records")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, rec := range list {
		rows = append(rows, []string{rec.Timestamp.Local().Format(time.DateTime), string(rec.Event)})
	}
	printTable(a.out, []column{{Header: "WHEN", Width: 19}, {Header: "EVENT"}}, rows)
	return nil
}
