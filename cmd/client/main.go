package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/vaultsync/internal/client/cli"
	"github.com/dmitrijs2005/vaultsync/internal/client/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	if err := cli.Execute(ctx, cfg); err != nil {
		stop()
		os.Exit(1)
	}
}
