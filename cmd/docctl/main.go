package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/docpipe/internal/bootstrap"
	"github.com/kirillkom/docpipe/internal/config"
	"github.com/kirillkom/docpipe/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(openServices)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docctl: %v\n", err)
		os.Exit(1)
	}
}

func openServices(ctx context.Context, logLevel string) (*services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(os.Stderr, "docctl", logLevel)
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &services{
		reader:       app.QueryUC,
		restarter:    app.Pipeline,
		diagnostics:  app.DiagnosticsUC,
		housekeeping: app.HousekeepingUC,
	}, app.Close, nil
}
