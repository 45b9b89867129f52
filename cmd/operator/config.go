package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"GuardianScope/internal/engine"
	"GuardianScope/internal/ingest"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/pipeline"
	"GuardianScope/internal/submit"
	"GuardianScope/internal/tasks"
)

// Config holds the operator configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the observability API listen address.
	HTTPAddress string

	// LedgerAddr is the ledger gateway address.
	LedgerAddr string

	// LedgerKey pins the gateway identity when set.
	LedgerKey ed25519.PublicKey

	// Keys are the ed25519 identities of the local operators.
	Keys []ed25519.PrivateKey

	// PolicyPath is a WASM policy module; empty selects the keyword evaluator.
	PolicyPath string

	// PolicyFuel is the fuel budget of one policy evaluation.
	PolicyFuel uint64

	// DenyTerms configures the keyword evaluator.
	DenyTerms []string

	// Engine is the policy and timing of every component.
	Engine engine.Config
}

// flags returns the operator flags. Every flag has a GUARDIAN_* variable.
func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data", Value: "./data", Usage: "data directory path", EnvVars: []string{"GUARDIAN_DATA"}},
		&cli.StringFlag{Name: "http", Value: ":8080", Usage: "observability API address, empty to disable", EnvVars: []string{"GUARDIAN_HTTP"}},
		&cli.StringFlag{Name: "ledger", Value: "localhost:9000", Usage: "ledger gateway address", EnvVars: []string{"GUARDIAN_LEDGER"}},
		&cli.StringFlag{Name: "ledger-key", Usage: "hex ed25519 public key of the gateway", EnvVars: []string{"GUARDIAN_LEDGER_KEY"}},
		&cli.StringSliceFlag{Name: "key", Value: cli.NewStringSlice("./data/operator.key"), Usage: "operator identity key path, repeatable; generated if missing", EnvVars: []string{"GUARDIAN_KEYS"}},
		&cli.StringFlag{Name: "policy", Usage: "WASM policy module path", EnvVars: []string{"GUARDIAN_POLICY"}},
		&cli.Uint64Flag{Name: "policy-fuel", Usage: "fuel budget per policy evaluation", EnvVars: []string{"GUARDIAN_POLICY_FUEL"}},
		&cli.StringSliceFlag{Name: "deny", Usage: "denylisted term for the keyword evaluator, repeatable", EnvVars: []string{"GUARDIAN_DENY"}},
		&cli.StringFlag{Name: "quorum", Value: "majority", Usage: "approval quorum: majority, count=N or fraction=F", EnvVars: []string{"GUARDIAN_QUORUM"}},
		&cli.StringFlag{Name: "tie-break", Value: "reject", Usage: "decision when every operator voted without a quorum: reject or approve", EnvVars: []string{"GUARDIAN_TIE_BREAK"}},
		&cli.DurationFlag{Name: "interval", Value: 500 * time.Millisecond, Usage: "scheduling pass interval", EnvVars: []string{"GUARDIAN_INTERVAL"}},
		&cli.DurationFlag{Name: "eval-timeout", Value: 10 * time.Second, Usage: "evaluator call timeout", EnvVars: []string{"GUARDIAN_EVAL_TIMEOUT"}},
		&cli.Float64Flag{Name: "eval-rate", Usage: "evaluator calls per second, 0 for no limit", EnvVars: []string{"GUARDIAN_EVAL_RATE"}},
		&cli.IntFlag{Name: "eval-concurrency", Value: 8, Usage: "evaluator calls running at once", EnvVars: []string{"GUARDIAN_EVAL_CONCURRENCY"}},
		&cli.IntFlag{Name: "max-attempts", Value: 5, Usage: "submission attempts before a persistent failure", EnvVars: []string{"GUARDIAN_MAX_ATTEMPTS"}},
		&cli.DurationFlag{Name: "backoff-min", Value: 200 * time.Millisecond, Usage: "first retry delay", EnvVars: []string{"GUARDIAN_BACKOFF_MIN"}},
		&cli.DurationFlag{Name: "backoff-max", Value: 30 * time.Second, Usage: "retry delay cap", EnvVars: []string{"GUARDIAN_BACKOFF_MAX"}},
		&cli.DurationFlag{Name: "redrive-after", Value: time.Minute, Usage: "delay before resubmitting a persistently failed vote", EnvVars: []string{"GUARDIAN_REDRIVE_AFTER"}},
		&cli.IntFlag{Name: "page-size", Value: 100, Usage: "tasks per catch-up page", EnvVars: []string{"GUARDIAN_PAGE_SIZE"}},
		&cli.DurationFlag{Name: "ingest-backoff-min", Value: 500 * time.Millisecond, Usage: "first ledger reconnect delay", EnvVars: []string{"GUARDIAN_INGEST_BACKOFF_MIN"}},
		&cli.DurationFlag{Name: "ingest-backoff-max", Value: 30 * time.Second, Usage: "ledger reconnect delay cap", EnvVars: []string{"GUARDIAN_INGEST_BACKOFF_MAX"}},
		&cli.DurationFlag{Name: "sweep-interval", Value: 5 * time.Second, Usage: "aggregator sweep interval", EnvVars: []string{"GUARDIAN_SWEEP_INTERVAL"}},
		&cli.DurationFlag{Name: "refresh-interval", Value: 30 * time.Second, Usage: "registration refresh interval", EnvVars: []string{"GUARDIAN_REFRESH_INTERVAL"}},
		&cli.DurationFlag{Name: "vote-sync-interval", Value: 2 * time.Second, Usage: "ledger vote pull interval", EnvVars: []string{"GUARDIAN_VOTE_SYNC_INTERVAL"}},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"GUARDIAN_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-file", Usage: "rotating log file, in addition to stdout", EnvVars: []string{"GUARDIAN_LOG_FILE"}},
		&cli.IntFlag{Name: "log-max-size", Value: 100, Usage: "log file rotation size in MB", EnvVars: []string{"GUARDIAN_LOG_MAX_SIZE"}},
		&cli.IntFlag{Name: "log-max-age", Value: 28, Usage: "days to keep rotated log files", EnvVars: []string{"GUARDIAN_LOG_MAX_AGE"}},
		&cli.IntFlag{Name: "log-max-backups", Value: 5, Usage: "rotated log files to keep", EnvVars: []string{"GUARDIAN_LOG_MAX_BACKUPS"}},
	}
}

// logOptions reads the log flags.
func logOptions(cctx *cli.Context) logger.Options {
	return logger.Options{
		Level:      cctx.String("log-level"),
		File:       cctx.String("log-file"),
		MaxSizeMB:  cctx.Int("log-max-size"),
		MaxAgeDays: cctx.Int("log-max-age"),
		MaxBackups: cctx.Int("log-max-backups"),
	}
}

// configFromContext builds the Config once from flags and environment.
func configFromContext(cctx *cli.Context) (*Config, error) {
	quorum, err := tasks.ParseQuorum(cctx.String("quorum"))
	if err != nil {
		return nil, err
	}

	tieBreak, err := tasks.ParseTieBreak(cctx.String("tie-break"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataPath:    cctx.String("data"),
		HTTPAddress: cctx.String("http"),
		LedgerAddr:  cctx.String("ledger"),
		PolicyPath:  cctx.String("policy"),
		PolicyFuel:  cctx.Uint64("policy-fuel"),
		DenyTerms:   cctx.StringSlice("deny"),
		Engine: engine.Config{
			Tasks: tasks.Config{Quorum: quorum, TieBreak: tieBreak},
			Ingest: ingest.Config{
				PageSize:   cctx.Int("page-size"),
				BackoffMin: cctx.Duration("ingest-backoff-min"),
				BackoffMax: cctx.Duration("ingest-backoff-max"),
			},
			Pipeline: pipeline.Config{
				Interval:     cctx.Duration("interval"),
				EvalTimeout:  cctx.Duration("eval-timeout"),
				EvalRate:     cctx.Float64("eval-rate"),
				Concurrency:  cctx.Int("eval-concurrency"),
				RedriveAfter: cctx.Duration("redrive-after"),
			},
			Submit: submit.Config{
				MaxAttempts: cctx.Int("max-attempts"),
				BackoffMin:  cctx.Duration("backoff-min"),
				BackoffMax:  cctx.Duration("backoff-max"),
			},
			SweepInterval:    cctx.Duration("sweep-interval"),
			RefreshInterval:  cctx.Duration("refresh-interval"),
			VoteSyncInterval: cctx.Duration("vote-sync-interval"),
		},
	}

	if s := cctx.String("ledger-key"); s != "" {
		key, err := hex.DecodeString(s)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ledger key %q", s)
		}
		cfg.LedgerKey = key
	}

	for _, path := range cctx.StringSlice("key") {
		key, err := loadOrGenerateKey(path)
		if err != nil {
			return nil, fmt.Errorf("load key %s:\n%w", path, err)
		}
		cfg.Keys = append(cfg.Keys, key)
	}

	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("at least one --key is required")
	}

	return cfg, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create key directory:\n%w", err)
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	logger.Info("generated operator key", "path", path)

	return priv, nil
}
