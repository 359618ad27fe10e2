package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KyleBrandon/hydro-exporter/pkg/server"
)

func main() {
	// parse the command-line flags
	flag.Parse()

	config, err := server.InitializeServer()
	if err != nil {
		slog.Error("failed to initialize the server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// start the server
	if err := config.RunServer(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
