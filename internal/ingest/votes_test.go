package ingest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GuardianScope/internal/ledger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/registration"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/tasks"
)

func newHolder(t *testing.T) *signing.LocalKeyHolder {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	h, err := signing.NewLocalKeyHolder(priv)
	require.NoError(t, err)

	return h
}

// voteOnLedger submits a signed attestation as another process would.
func voteOnLedger(t *testing.T, mem *ledger.Memory, h *signing.LocalKeyHolder, ev moderation.TaskCreated, approve bool) {
	t.Helper()

	sig, err := h.Sign(context.Background(), signing.CanonicalMessage(ev.Content, approve))
	require.NoError(t, err)

	_, err = mem.SubmitAttestation(context.Background(), moderation.Attestation{
		TaskID:    ev.ID,
		Operator:  h.Operator(),
		Approve:   approve,
		Signature: sig,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
}

type voteEnv struct {
	mem     *ledger.Memory
	tracker *registration.Tracker
	store   *tasks.Store
	holders []*signing.LocalKeyHolder
	task    moderation.TaskCreated
}

func newVoteEnv(t *testing.T, n int) *voteEnv {
	t.Helper()

	ctx := context.Background()
	env := &voteEnv{mem: ledger.NewMemory(), tracker: registration.New(nil)}
	env.store = tasks.New(tasks.Config{}, env.tracker, nil)

	for i := 0; i < n; i++ {
		h := newHolder(t)
		require.NoError(t, ledger.RegisterOperator(ctx, env.mem, h))
		env.holders = append(env.holders, h)
	}

	_, err := env.tracker.Sync(ctx, env.mem)
	require.NoError(t, err)

	env.task, err = env.mem.CreateTask(ctx, []byte("post"))
	require.NoError(t, err)

	_, err = env.store.Upsert(env.task)
	require.NoError(t, err)

	return env
}

func TestVotesMirrorsLedgerAttestations(t *testing.T) {
	ctx := context.Background()
	env := newVoteEnv(t, 3)
	mirror := NewVotes(env.mem, env.store)

	voteOnLedger(t, env.mem, env.holders[0], env.task, true)

	n, err := mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, ok := env.store.Get(env.task.ID)
	require.True(t, ok)
	assert.Equal(t, moderation.StatusDeciding, task.Status)
	assert.Equal(t, 3, task.Eligible)
	assert.Equal(t, 2, task.Threshold)
	assert.NotEqual(t, [32]byte{}, task.Votes[0].Receipt.TxHash)

	n, err = mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a mirrored vote is not recorded twice")

	voteOnLedger(t, env.mem, env.holders[1], env.task, true)

	n, err = mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, _ = env.store.Get(env.task.ID)
	assert.Equal(t, moderation.StatusFinalized, task.Status)
	assert.Equal(t, moderation.Approved, task.Decision)

	voteOnLedger(t, env.mem, env.holders[2], env.task, false)

	n, err = mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "finalized tasks are not polled")
}

func TestVotesWaitForRegistrationRefresh(t *testing.T) {
	ctx := context.Background()
	env := newVoteEnv(t, 1)
	mirror := NewVotes(env.mem, env.store)

	late := newHolder(t)
	require.NoError(t, ledger.RegisterOperator(ctx, env.mem, late))
	voteOnLedger(t, env.mem, late, env.task, false)

	n, err := mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = env.tracker.Sync(ctx, env.mem)
	require.NoError(t, err)

	n, err = mirror.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, env.store.HasVoted(env.task.ID, late.Operator()))
}

func TestVotesLedgerOutageIsTransient(t *testing.T) {
	env := newVoteEnv(t, 1)
	env.mem.SetUnavailable(true)

	_, err := NewVotes(env.mem, env.store).Sync(context.Background())
	assert.ErrorIs(t, err, moderation.ErrTransient)
}
