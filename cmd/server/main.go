package main

import (
	"context"
	"fmt"
	"os"

	"github.com/christopherjohns/chatrelay/internal/app"
	"github.com/christopherjohns/chatrelay/internal/config"
	"github.com/christopherjohns/chatrelay/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info(ctx, "chatrelay started",
		"addr", a.ChatAddr().String(),
		"framing", cfg.Framing,
		"store", cfg.Store.Driver,
	)
	return a.Run(ctx)
}
