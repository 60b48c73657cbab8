package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/vaultsync/internal/client/identity"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

const onlineCheckInterval = 5 * time.Second

// execIface is the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	IdentityStatus(ctx context.Context) error
	CreateIdentity(ctx context.Context, force bool) error
	ImportIdentity(ctx context.Context) error
	RevealIdentity(ctx context.Context) error
	ClearIdentity(ctx context.Context, yes bool) error
	ListDevices(ctx context.Context) error
	RefreshDevices(ctx context.Context) error
	Record(ctx context.Context, eventType string, fields []string) error
	List(ctx context.Context, after int64, limit int) error
	Show(ctx context.Context, id string) error
	Sync(ctx context.Context) error
	StartSync(ctx context.Context) error
	Audit(ctx context.Context, limit int) error
}

func newShellCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open the interactive shell with live sync",
		Args:  cobra.NoArgs,
		RunE:  r.withApp(runShell),
	}
}

// runShell starts background sync and the connectivity watcher, then hands
// the terminal to the REPL until exit or ctx is done.
func runShell(ctx context.Context, a *App, _ []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printlnFn(headerStyle.Render("vaultsync") + " " + mutedStyle.Render("type 'help' for commands"))

	if a.isLoggedIn() {
		if err := a.authService.Ping(ctx); err == nil {
			a.setMode(ModeOnline)
		}
		startLiveSync(ctx, a)
	}

	go a.StartOnlineStatusWatcher(ctx, onlineCheckInterval, func(m Mode) {
		printlnFn("connectivity:", renderMode(m))
	})

	runREPL(ctx, a, func() string { return a.prompt() }, a.reader)
	return nil
}

func startLiveSync(ctx context.Context, a execIface) {
	err := a.StartSync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNoIdentity):
		printlnFn(warnStyle.Render("No identity yet: run 'identity create' or 'identity import' to start syncing"))
	default:
		printlnFn(errStyle.Render("live sync: " + err.Error()))
	}
}

func (a *App) prompt() string {
	user := a.userName
	if user == "" {
		user = "-"
	}
	return fmt.Sprintf("%s %s %s", user, renderMode(a.Mode()), renderStatus(a.engine.Status()))
}

// runREPL reads one command per line and dispatches it to a. The first
// token selects the command, the rest are its arguments. Command errors are
// printed and the loop continues; it ends on EOF, "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("vs> %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}
		if err := dispatch(ctx, a, cmd, args); err != nil {
			printlnFn(errStyle.Render("error: " + err.Error()))
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string) error {
	switch cmd {
	case "help":
		if a.isLoggedIn() {
			printlnFn("Available commands: record <type> [name=value...], (l)ist [after], show <id>, sync, devices [refresh], identity [create|import|reveal|clear], audit, logout, exit")
		} else {
			printlnFn("Available commands: register, login, (l)ist [after], show <id>, record <type> [name=value...], identity [create|import|reveal|clear], exit")
		}
		return nil

	case "register":
		return a.Register(ctx)

	case "login":
		if err := a.Login(ctx); err != nil {
			return err
		}
		if a.isLoggedIn() {
			startLiveSync(ctx, a)
		}
		return nil

	case "logout":
		return a.Logout(ctx)

	case "identity", "id":
		return identityCommand(ctx, a, args)

	case "devices", "dev":
		if len(args) > 0 && args[0] == "refresh" {
			return a.RefreshDevices(ctx)
		}
		return a.ListDevices(ctx)

	case "record":
		if len(args) == 0 {
			printlnFn("Usage: record <type> [name=value...]")
			return nil
		}
		return a.Record(ctx, args[0], args[1:])

	case "l", "list":
		var after int64
		if len(args) > 0 {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				printlnFn("Usage: list [after]")
				return nil
			}
			after = n
		}
		return a.List(ctx, after, defaultListLimit)

	case "show":
		if len(args) != 1 {
			printlnFn("Usage: show <id>")
			return nil
		}
		return a.Show(ctx, args[0])

	case "sync":
		return a.Sync(ctx)

	case "audit":
		return a.Audit(ctx, 20)

	default:
		printlnFn("Unknown command:", cmd)
		return nil
	}
}

func identityCommand(ctx context.Context, a execIface, args []string) error {
	if len(args) == 0 {
		return a.IdentityStatus(ctx)
	}
	switch args[0] {
	case "create":
		force := len(args) > 1 && args[1] == "--force"
		if err := a.CreateIdentity(ctx, force); err != nil {
			return err
		}
	case "import":
		if err := a.ImportIdentity(ctx); err != nil {
			return err
		}
	case "reveal", "show":
		return a.RevealIdentity(ctx)
	case "clear":
		return a.ClearIdentity(ctx, false)
	default:
		printlnFn("Usage: identity [create [--force]|import|reveal|clear]")
		return nil
	}
	if a.isLoggedIn() {
		startLiveSync(ctx, a)
	}
	return nil
}
