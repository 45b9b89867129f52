package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"GuardianScope/internal/logger"
)

func main() {
	app := &cli.App{
		Name:   "operator",
		Usage:  "GuardianScope moderation operator",
		Flags:  flags(),
		Before: initLogger,
		Action: runOperator,
		Commands: []*cli.Command{
			registerCommand,
			deregisterCommand,
			createTaskCommand,
			snapshotCommand,
			statusCommand,
			tasksCommand,
			watchCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// initLogger installs the global logger from the log flags.
func initLogger(cctx *cli.Context) error {
	logger.Init(logOptions(cctx))
	return nil
}

// runOperator runs the node until SIGINT or SIGTERM.
func runOperator(cctx *cli.Context) error {
	cfg, err := configFromContext(cctx)
	if err != nil {
		return err
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}
	defer node.Close()

	printStartupInfo(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return node.Run(ctx)
}

// printStartupInfo displays the operator configuration at startup.
func printStartupInfo(cfg *Config) {
	for _, key := range cfg.Keys {
		pub := key.Public().(ed25519.PublicKey)
		logger.Info("local operator", "id", hex.EncodeToString(pub))
	}

	logger.Info("starting GuardianScope operator",
		"ledger", cfg.LedgerAddr,
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"operators", len(cfg.Keys),
		"policy", cfg.PolicyPath,
	)
}
