// Command ledgerd serves an in-memory moderation ledger to operators and
// optionally feeds it sample tasks.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/network"
)

// sampleContents are cycled through by the task generator.
var sampleContents = []string{
	"This is a friendly message about puppies and kittens playing together.",
	"This message contains words that might be inappropriate: [FILTERED].",
	"A perfectly normal article about cooking recipes and gardening tips.",
	"Content that should be reviewed carefully due to sensitive topics.",
	"Educational content about science and mathematics.",
}

func main() {
	app := &cli.App{
		Name:  "ledgerd",
		Usage: "development moderation ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":9000", Usage: "gateway listen address", EnvVars: []string{"LEDGERD_LISTEN"}},
			&cli.StringFlag{Name: "key", Usage: "hex ed25519 seed of the gateway identity, random if empty", EnvVars: []string{"LEDGERD_KEY"}},
			&cli.DurationFlag{Name: "task-interval", Value: 24 * time.Second, Usage: "sample task period, 0 disables", EnvVars: []string{"LEDGERD_TASK_INTERVAL"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"LEDGERD_LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-file", Usage: "rotating log file, in addition to stdout", EnvVars: []string{"LEDGERD_LOG_FILE"}},
		},
		Before: func(cctx *cli.Context) error {
			logger.Init(logger.Options{
				Level: cctx.String("log-level"),
				File:  cctx.String("log-file"),
			})
			return nil
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	key, err := gatewayKey(cctx.String("key"))
	if err != nil {
		return err
	}

	backend := ledger.NewMemory()

	gateway, err := ledger.NewGateway(backend, network.Config{
		PrivateKey: key,
		ListenAddr: cctx.String("listen"),
	})
	if err != nil {
		return err
	}
	defer gateway.Close()

	if err := gateway.Start(); err != nil {
		return err
	}

	logger.Info("ledger gateway started",
		"addr", gateway.Addr(),
		"key", hex.EncodeToString(gateway.PublicKey()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := cctx.Duration("task-interval"); interval > 0 {
		go generateTasks(ctx, backend, gateway, interval)
	}

	<-ctx.Done()
	logger.Info("ledger gateway stopping", "tasks", backend.Len())

	return nil
}

// gatewayKey decodes a hex seed, or generates a fresh identity.
func gatewayKey(seed string) (ed25519.PrivateKey, error) {
	if seed == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key:\n%w", err)
		}
		return priv, nil
	}

	raw, err := hex.DecodeString(seed)
	if err != nil || len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("key must be a %d-byte hex seed", ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(raw), nil
}

// generateTasks appends one sample task per interval until ctx is done.
func generateTasks(ctx context.Context, admin ledger.Admin, gateway *ledger.Gateway, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		content := sampleContents[i%len(sampleContents)]

		ev, err := admin.CreateTask(ctx, []byte(content))
		if err != nil {
			logger.Warn("create sample task", "error", err)
		} else {
			logger.Info("sample task created", "task", uint64(ev.ID), "operators", gateway.Connections())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
