package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
)

const defaultListLimit = 50

func newRecordCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "record <type> [name=value...]",
		Short: "Record an event in the local journal",
		Long: `Record appends an event to the local journal. It is pushed to the
server on the next sync. Without fields the payload is read interactively,
one name=value per line, ending with an empty line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			return a.Record(ctx, args[0], args[1:])
		}),
	}
}

func newListCommand(r *runner) *cobra.Command {
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "List journal entries in local order",
		Args:    cobra.NoArgs,
		RunE: r.withApp(func(ctx context.Context, a *App, _ []string) error {
			return a.List(ctx, after, limit)
		}),
	}
	cmd.Flags().Int64Var(&after, "after", 0, "list entries after this local sequence")
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum number of entries")
	return cmd
}

func newShowCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one entry with its payload",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(ctx context.Context, a *App, args []string) error {
			return a.Show(ctx, args[0])
		}),
	}
}

func (a *App) Record(ctx context.Context, eventType string, fields []string) error {
	if len(fields) == 0 {
		var err error
		fields, err = GetFields(a.reader, a.out)
		if err != nil {
			return err
		}
	}
	e, err := a.entryService.Record(ctx, eventType, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", okStyle.Render("Recorded"), e.EntryID)
	return nil
}

func (a *App) List(ctx context.Context, after int64, limit int) error {
	if limit <= 0 {
		limit = defaultListLimit
	}
	list, err := a.entryService.List(ctx, after, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No entries")
		return nil
	}
	printTable(a.out, []column{
		{Header: "SEQ", Width: 6},
		{Header: "ID", Width: 36},
		{Header: "TYPE", Width: 16},
		{Header: "CREATED", Width: 19},
		{Header: "STATE"},
	}, entryRows(list))

	pending, err := a.entryService.PendingCount(ctx)
	if err == nil && pending > 0 {
		fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("%d entries waiting to be pushed", pending)))
	}
	return nil
}

func entryRows(list []*models.Entry) [][]string {
	rows := make([][]string, 0, len(list))
	for _, e := range list {
		rows = append(rows, []string{
			fmt.Sprint(e.LocalSeq),
			e.EntryID,
			e.EventType,
			e.CreatedAt.Local().Format(time.DateTime),
			entryState(e),
		})
	}
	return rows
}

func entryState(e *models.Entry) string {
	switch {
	case e.RemoteSequence > 0:
		return fmt.Sprintf("received #%d", e.RemoteSequence)
	case e.Pushed:
		return "pushed"
	default:
		return "pending"
	}
}

func (a *App) Show(ctx context.Context, id string) error {
	e, err := a.entryService.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("ID:     "), e.EntryID)
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Type:   "), e.EventType)
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Created:"), e.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("State:  "), entryState(e))

	var buf bytes.Buffer
	if err := json.Indent(&buf, e.Payload, "", "  "); err != nil {
		buf.Reset()
		buf.Write(e.Payload)
	}
	fmt.Fprintln(a.out, buf.String())
	return nil
}
