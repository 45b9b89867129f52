package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"GuardianScope/internal/api"
	"GuardianScope/internal/engine"
	"GuardianScope/internal/evaluator"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/storage"
)

// Node represents a running operator process.
type Node struct {
	cfg       *Config
	storage   *storage.Storage
	client    *ledger.Remote
	keyring   *signing.Keyring
	evaluator evaluator.Evaluator
	wasm      *evaluator.WASM // wasm is set when a policy module is loaded
	engine    *engine.Engine
	api       *api.Server
}

// NewNode creates and initializes a node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	steps := []func() error{
		n.initLedger,
		n.initKeyring,
		n.initEvaluator,
		n.initEngine,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			n.Close()
			return nil, err
		}
	}

	if cfg.HTTPAddress != "" {
		n.api = api.New(cfg.HTTPAddress, n.engine)
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	db, err := openStorage(n.cfg.DataPath)
	if err != nil {
		return err
	}

	n.storage = db

	return nil
}

// openStorage opens the database under dataPath.
func openStorage(dataPath string) (*storage.Storage, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(dataPath, "db"))
	if err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	return db, nil
}

// initLedger creates the gateway client.
func (n *Node) initLedger() error {
	client, err := newRemote(n.cfg)
	if err != nil {
		return err
	}

	n.client = client

	return nil
}

// newRemote creates a gateway client speaking as the first local operator.
func newRemote(cfg *Config) (*ledger.Remote, error) {
	client, err := ledger.NewRemote(ledger.Config{
		GatewayAddr: cfg.LedgerAddr,
		GatewayKey:  cfg.LedgerKey,
		PrivateKey:  cfg.Keys[0],
	})
	if err != nil {
		return nil, fmt.Errorf("init ledger client:\n%w", err)
	}

	return client, nil
}

// initKeyring derives a key holder per local identity.
func (n *Node) initKeyring() error {
	holders, err := keyHolders(n.cfg)
	if err != nil {
		return err
	}

	n.keyring = signing.NewKeyring()
	for _, h := range holders {
		n.keyring.Add(h)
	}

	return nil
}

func keyHolders(cfg *Config) ([]*signing.LocalKeyHolder, error) {
	holders := make([]*signing.LocalKeyHolder, 0, len(cfg.Keys))

	for _, key := range cfg.Keys {
		h, err := signing.NewLocalKeyHolder(key)
		if err != nil {
			return nil, fmt.Errorf("init key holder:\n%w", err)
		}
		holders = append(holders, h)
	}

	return holders, nil
}

// initEvaluator loads the WASM policy if configured, else the keyword evaluator.
func (n *Node) initEvaluator() error {
	if n.cfg.PolicyPath == "" {
		n.evaluator = evaluator.NewKeyword(n.cfg.DenyTerms...)
		return nil
	}

	module, err := os.ReadFile(n.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("read policy module:\n%w", err)
	}

	wasm, err := evaluator.NewWASM(context.Background(), module, n.cfg.PolicyFuel)
	if err != nil {
		return fmt.Errorf("load policy module:\n%w", err)
	}

	id := wasm.ID()
	logger.Info("policy module loaded", "path", n.cfg.PolicyPath, "id", fmt.Sprintf("%x", id[:8]))

	n.wasm = wasm
	n.evaluator = wasm

	return nil
}

// initEngine wires the moderation engine.
func (n *Node) initEngine() error {
	e, err := engine.New(n.cfg.Engine, engine.Deps{
		Client:    n.client,
		Keyring:   n.keyring,
		Evaluator: n.evaluator,
		DB:        n.storage,
	})
	if err != nil {
		return fmt.Errorf("init engine:\n%w", err)
	}

	n.engine = e

	return nil
}

// Run starts the API and runs the engine until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if n.api != nil {
		if err := n.api.Start(); err != nil {
			return fmt.Errorf("start api:\n%w", err)
		}
	}

	return n.engine.Run(ctx)
}

// Close releases every resource in reverse order of creation.
func (n *Node) Close() {
	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			logger.Warn("stop api", "error", err)
		}
	}

	if n.wasm != nil {
		n.wasm.Close(context.Background())
	}

	if n.client != nil {
		n.client.Close()
	}

	if n.storage != nil {
		if err := n.storage.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}
}
