package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/samvad-relay/internal/app"
	"github.com/samvad-hq/samvad-relay/internal/config"
	"github.com/samvad-hq/samvad-relay/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sugar, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()
	log := logger.New(sugar)

	logger.InfoObj("relayd starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayd, err := app.NewRelay(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize relay", "error", err.Error())
		return err
	}

	if err := relayd.Run(ctx); err != nil {
		return fmt.Errorf("relay run: %w", err)
	}
	return nil
}
