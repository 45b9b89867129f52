package pipeline

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GuardianScope/internal/alert"
	"GuardianScope/internal/evaluator"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/registration"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/storage"
	"GuardianScope/internal/submit"
	"GuardianScope/internal/tasks"
)

// counting wraps an evaluator and counts its calls.
type counting struct {
	inner evaluator.Evaluator
	calls atomic.Int32
}

func (c *counting) Evaluate(ctx context.Context, content []byte) (bool, error) {
	c.calls.Add(1)
	return c.inner.Evaluate(ctx, content)
}

func fixed(approve bool) *counting {
	return &counting{inner: evaluator.Func(func(context.Context, []byte) (bool, error) {
		return approve, nil
	})}
}

func failing() *counting {
	return &counting{inner: evaluator.Func(func(context.Context, []byte) (bool, error) {
		return false, errors.New("model unavailable")
	})}
}

type env struct {
	mem       *ledger.Memory
	tracker   *registration.Tracker
	store     *tasks.Store
	alerts    *alert.Log
	submitter *submit.Submitter
	holders   []*signing.LocalKeyHolder
}

// newEnv registers n operators on a memory ledger.
func newEnv(t *testing.T, n int, db *storage.Storage, maxAttempts int) *env {
	t.Helper()

	ctx := context.Background()
	e := &env{
		mem:     ledger.NewMemory(),
		tracker: registration.New(nil),
		alerts:  alert.NewLog(0),
	}

	for i := 0; i < n; i++ {
		e.holders = append(e.holders, newHolder(t))
		require.NoError(t, ledger.RegisterOperator(ctx, e.mem, e.holders[i]))
	}

	_, err := e.tracker.Sync(ctx, e.mem)
	require.NoError(t, err)

	e.store = tasks.New(tasks.Config{}, e.tracker, db)
	e.submitter = submit.New(submit.Config{
		MaxAttempts: maxAttempts,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, e.mem, e.store, e.tracker, e.alerts)
	t.Cleanup(e.submitter.Close)

	return e
}

func newHolder(t *testing.T) *signing.LocalKeyHolder {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	h, err := signing.NewLocalKeyHolder(priv)
	require.NoError(t, err)

	return h
}

func (e *env) task(t *testing.T, content string) moderation.TaskID {
	t.Helper()

	ev, err := e.mem.CreateTask(context.Background(), []byte(content))
	require.NoError(t, err)

	_, err = e.store.Upsert(ev)
	require.NoError(t, err)

	return ev.ID
}

func (e *env) pipeline(cfg Config, db *storage.Storage, evals map[int]evaluator.Evaluator, local ...int) *Pipeline {
	keyring := signing.NewKeyring()
	for _, i := range local {
		keyring.Add(e.holders[i])
	}

	overrides := make(map[moderation.OperatorID]evaluator.Evaluator)
	for i, ev := range evals {
		overrides[e.holders[i].Operator()] = ev
	}

	return New(cfg, Deps{
		Store:      e.store,
		Registry:   e.tracker,
		Keyring:    keyring,
		Evaluator:  evaluator.NewKeyword(),
		Evaluators: overrides,
		Submitter:  e.submitter,
		DB:         db,
	})
}

func pass(t *testing.T, p *Pipeline) int {
	t.Helper()

	n := p.Pass(context.Background())
	p.Wait()

	return n
}

func TestTwoApprovalsFinalizeWithoutThirdVote(t *testing.T) {
	e := newEnv(t, 3, nil, 3)
	id := e.task(t, "A friendly message about puppies.")

	p := e.pipeline(Config{}, nil, nil, 0, 1)
	assert.Equal(t, 2, pass(t, p))

	task, _ := e.store.Get(id)
	assert.Equal(t, moderation.StatusFinalized, task.Status)
	assert.Equal(t, moderation.Approved, task.Decision)
	assert.Len(t, task.Votes, 2)
	assert.Equal(t, 3, task.Eligible)
	assert.Equal(t, 2, task.Threshold)
}

func TestTwoRejectionsMeanThirdIsNeverEvaluated(t *testing.T) {
	e := newEnv(t, 3, nil, 3)
	id := e.task(t, "This message contains words that might be inappropriate.")

	third := fixed(true)
	keyring := signing.NewKeyring(e.holders[0], e.holders[1])
	p := New(Config{}, Deps{
		Store:      e.store,
		Registry:   e.tracker,
		Keyring:    keyring,
		Evaluator:  evaluator.NewKeyword(),
		Evaluators: map[moderation.OperatorID]evaluator.Evaluator{e.holders[2].Operator(): third},
		Submitter:  e.submitter,
	})

	pass(t, p)

	task, _ := e.store.Get(id)
	require.Equal(t, moderation.StatusFinalized, task.Status)
	assert.Equal(t, moderation.Rejected, task.Decision)

	keyring.Add(e.holders[2])
	assert.Equal(t, 0, pass(t, p))
	assert.Zero(t, third.calls.Load())
}

func TestEvaluatorFailureDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t, 3, nil, 3)
	id := e.task(t, "hello")

	broken := failing()
	p := e.pipeline(Config{}, nil, map[int]evaluator.Evaluator{0: broken}, 0, 1, 2)

	pass(t, p)

	task, _ := e.store.Get(id)
	assert.Equal(t, moderation.StatusFinalized, task.Status)
	assert.Equal(t, moderation.Approved, task.Decision)
	assert.False(t, task.HasVoted(e.holders[0].Operator()))
	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Zero(t, p.Markers())
}

func TestEvaluatorFailureNeverFinalizes(t *testing.T) {
	e := newEnv(t, 3, nil, 3)
	id := e.task(t, "hello")

	first, last := failing(), failing()
	p := e.pipeline(Config{}, nil, map[int]evaluator.Evaluator{0: first, 2: last}, 0, 1, 2)

	pass(t, p)

	task, _ := e.store.Get(id)
	assert.Equal(t, moderation.StatusDeciding, task.Status)
	assert.Len(t, task.Votes, 1)

	// Failed pairs are retried on the next pass; the voter is not.
	assert.Equal(t, 2, pass(t, p))
	assert.Equal(t, int32(2), first.calls.Load())
	assert.Equal(t, int32(2), last.calls.Load())
}

func TestFinalizationCancelsInFlightEvaluation(t *testing.T) {
	e := newEnv(t, 3, nil, 3)
	id := e.task(t, "hello")

	started := make(chan struct{})
	canceled := make(chan struct{})

	stuck := evaluator.Func(func(ctx context.Context, _ []byte) (bool, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return false, ctx.Err()
	})

	// The voters answer only once the third evaluation is running.
	afterStuck := evaluator.Func(func(ctx context.Context, _ []byte) (bool, error) {
		select {
		case <-started:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})

	evals := map[int]evaluator.Evaluator{0: afterStuck, 1: afterStuck, 2: stuck}
	p := e.pipeline(Config{}, nil, evals, 0, 1, 2)

	done := make(chan struct{})
	go func() {
		pass(t, p)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight evaluation was not canceled")
	}

	// The evaluator goroutine may outlive the job that abandoned it.
	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("stuck evaluator never saw the cancellation")
	}

	task, _ := e.store.Get(id)
	assert.Equal(t, moderation.StatusFinalized, task.Status)
	assert.False(t, task.HasVoted(e.holders[2].Operator()))
	assert.Zero(t, p.InFlight())
	assert.Zero(t, p.Markers())
}

func TestIneligibleOperatorIsSkipped(t *testing.T) {
	e := newEnv(t, 1, nil, 3)
	e.task(t, "hello")

	outsider := newHolder(t)
	keyring := signing.NewKeyring(outsider)

	p := New(Config{}, Deps{
		Store:     e.store,
		Registry:  e.tracker,
		Keyring:   keyring,
		Evaluator: evaluator.NewKeyword(),
		Submitter: e.submitter,
	})

	assert.Equal(t, 0, pass(t, p))
}

func TestPersistentFailureIsRedrivenWithoutEvaluating(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	e := newEnv(t, 3, db, 1)
	id := e.task(t, "hello")

	e.mem.FailSubmissions(1)

	p := e.pipeline(Config{RedriveAfter: time.Hour}, db, nil, 0)
	assert.Equal(t, 1, pass(t, p))
	assert.Equal(t, 1, p.Markers())
	assert.Equal(t, moderation.FailurePersistent, e.alerts.List()[0].Kind)

	// The failed pair waits for the redrive delay.
	assert.Equal(t, 0, pass(t, p))

	// A restarted pipeline resubmits the stored decision.
	eval := fixed(false)
	restarted := e.pipeline(Config{RedriveAfter: time.Millisecond}, db, map[int]evaluator.Evaluator{0: eval}, 0)
	require.NoError(t, restarted.Load())
	assert.Equal(t, 1, restarted.Markers())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, pass(t, restarted))
	assert.Zero(t, eval.calls.Load())

	task, _ := e.store.Get(id)
	require.Len(t, task.Votes, 1)
	assert.True(t, task.Votes[0].Approve)
	assert.Zero(t, restarted.Markers())

	value, err := db.Get(markerKey(pair{task: id, operator: e.holders[0].Operator()}))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestLedgerRefusalStopsResubmission(t *testing.T) {
	ctx := context.Background()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	e := newEnv(t, 3, db, 3)
	id := e.task(t, "hello")
	k := pair{task: id, operator: e.holders[0].Operator()}

	// The operator already voted from another process.
	sig, err := e.holders[0].Sign(ctx, signing.CanonicalMessage([]byte("hello"), true))
	require.NoError(t, err)
	_, err = e.mem.SubmitAttestation(ctx, moderation.Attestation{
		TaskID:    id,
		Operator:  k.operator,
		Approve:   true,
		Signature: sig,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	submitted := e.mem.Submissions()

	eval := fixed(true)
	p := e.pipeline(Config{}, db, map[int]evaluator.Evaluator{0: eval}, 0)

	assert.Equal(t, 1, pass(t, p))
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, pass(t, p))
	}

	assert.Equal(t, int32(1), eval.calls.Load())
	assert.Equal(t, submitted+1, e.mem.Submissions())
	assert.Zero(t, p.Markers())

	status, _ := e.store.Status(id)
	assert.Equal(t, moderation.StatusPending, status)

	// The refusal survives a restart.
	restarted := e.pipeline(Config{}, db, map[int]evaluator.Evaluator{0: eval}, 0)
	require.NoError(t, restarted.Load())
	assert.Equal(t, 0, pass(t, restarted))
	assert.Equal(t, int32(1), eval.calls.Load())
	assert.Equal(t, submitted+1, e.mem.Submissions())

	// Finalization by the other operators drops it.
	others := e.pipeline(Config{}, db, nil, 1, 2)
	assert.Equal(t, 2, pass(t, others))

	status, _ = e.store.Status(id)
	require.Equal(t, moderation.StatusFinalized, status)

	value, err := db.Get(markerKey(k))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestUnregisteredRefusalWaitsForRedrive(t *testing.T) {
	e := newEnv(t, 1, nil, 3)
	id := e.task(t, "hello")
	op := e.holders[0].Operator()

	// The ledger dropped the operator before the next registration refresh.
	require.NoError(t, e.mem.Deregister(context.Background(), op))

	eval := fixed(true)
	p := e.pipeline(Config{RedriveAfter: time.Hour}, nil, map[int]evaluator.Evaluator{0: eval}, 0)

	assert.Equal(t, 1, pass(t, p))
	assert.Equal(t, 0, pass(t, p))
	assert.Equal(t, 1, p.Markers())
	assert.Equal(t, 1, e.mem.Submissions())

	m, ok := p.markers.Load(pair{task: id, operator: op})
	require.True(t, ok)
	assert.False(t, m.refused)
	assert.False(t, m.failedAt.IsZero())
}

func TestLoadClearsUndecidedMarkers(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	e := newEnv(t, 1, db, 1)
	id := e.task(t, "hello")
	k := pair{task: id, operator: e.holders[0].Operator()}

	p := e.pipeline(Config{}, db, nil, 0)
	p.saveMarker(k, marker{})

	restarted := e.pipeline(Config{}, db, nil, 0)
	require.NoError(t, restarted.Load())
	assert.Zero(t, restarted.Markers())

	value, err := db.Get(markerKey(k))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMarkerEncoding(t *testing.T) {
	at := time.Unix(1700000000, 42).UTC()

	m, err := decodeMarker(encodeMarker(marker{decided: true, approve: true, failedAt: at}))
	require.NoError(t, err)
	assert.Equal(t, marker{decided: true, approve: true, failedAt: at}, m)

	m, err = decodeMarker(encodeMarker(marker{decided: true, refused: true}))
	require.NoError(t, err)
	assert.Equal(t, marker{decided: true, refused: true}, m)

	_, err = decodeMarker([]byte{1})
	assert.Error(t, err)

	k := pair{task: 7, operator: moderation.OperatorID{1, 2, 3}}
	parsed, err := parseMarkerKey(markerKey(k))
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestRunTriggersPasses(t *testing.T) {
	e := newEnv(t, 1, nil, 3)
	p := e.pipeline(Config{Interval: time.Hour}, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	id := e.task(t, "hello")
	p.Trigger()

	require.Eventually(t, func() bool {
		status, _ := e.store.Status(id)
		return status == moderation.StatusFinalized
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
