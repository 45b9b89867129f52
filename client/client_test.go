package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"GuardianScope/internal/api"
	"GuardianScope/internal/engine"
	"GuardianScope/internal/evaluator"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/submit"
)

// setupOperator runs an engine with three local operators behind a test API server.
func setupOperator(t *testing.T) (*ledger.Memory, *Client) {
	t.Helper()

	mem := ledger.NewMemory()
	keyring := signing.NewKeyring()

	for i := 0; i < 3; i++ {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}

		h, err := signing.NewLocalKeyHolder(priv)
		if err != nil {
			t.Fatal(err)
		}

		if err := ledger.RegisterOperator(context.Background(), mem, h); err != nil {
			t.Fatalf("register: %v", err)
		}

		keyring.Add(h)
	}

	e, err := engine.New(engine.Config{
		Submit:           submit.Config{BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond},
		SweepInterval:    20 * time.Millisecond,
		RefreshInterval:  20 * time.Millisecond,
		VoteSyncInterval: 20 * time.Millisecond,
	}, engine.Deps{Client: mem, Keyring: keyring, Evaluator: evaluator.NewKeyword()})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ts := httptest.NewServer(api.New(":0", e).Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return mem, New(ts.URL)
}

// waitTask polls until the task is finalized.
func waitTask(t *testing.T, c *Client, id moderation.TaskID) moderation.TaskView {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := c.Task(id)
		if err == nil && task.Status == moderation.StatusFinalized.String() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("task %d not finalized", id)
	return moderation.TaskView{}
}

func TestClientReadsOperatorState(t *testing.T) {
	mem, c := setupOperator(t)

	if err := c.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}

	ev, err := mem.CreateTask(context.Background(), []byte("Educational content about science and mathematics."))
	if err != nil {
		t.Fatal(err)
	}

	task := waitTask(t, c, ev.ID)
	if task.Decision != "approved" {
		t.Errorf("expected approved, got %s", task.Decision)
	}

	finalized, err := c.Tasks("finalized")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(finalized) != 1 || finalized[0].ID != ev.ID {
		t.Errorf("unexpected finalized tasks %+v", finalized)
	}

	ops, err := c.Operators()
	if err != nil {
		t.Fatalf("operators: %v", err)
	}
	if len(ops) != 3 {
		t.Errorf("expected 3 operators, got %d", len(ops))
	}

	status, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Cursor != ev.ID || status.Eligible != 3 {
		t.Errorf("unexpected status %+v", status)
	}

	failures, err := c.Failures()
	if err != nil || len(failures) != 0 {
		t.Errorf("expected no failures, got %v %v", failures, err)
	}
}

func TestClientTaskNotFound(t *testing.T) {
	_, c := setupOperator(t)

	if _, err := c.Task(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClientWatch(t *testing.T) {
	mem, c := setupOperator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created := false
	errDone := errors.New("done")

	err := c.Watch(ctx, func(snap moderation.Snapshot) error {
		if !created {
			created = true
			if _, err := mem.CreateTask(ctx, []byte("A perfectly normal article about cooking recipes.")); err != nil {
				return err
			}
			return nil
		}

		for _, task := range snap.Tasks {
			if task.Status == moderation.StatusFinalized.String() {
				return errDone
			}
		}

		return nil
	})

	if !errors.Is(err, errDone) {
		t.Fatalf("watch ended with %v", err)
	}
}
