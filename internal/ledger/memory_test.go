package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
)

func newHolder(t *testing.T) *signing.LocalKeyHolder {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	h, err := signing.NewLocalKeyHolder(priv)
	require.NoError(t, err)

	return h
}

func attest(t *testing.T, h *signing.LocalKeyHolder, task moderation.TaskID, content []byte, approve bool) moderation.Attestation {
	t.Helper()

	sig, err := h.Sign(context.Background(), signing.CanonicalMessage(content, approve))
	require.NoError(t, err)

	return moderation.Attestation{
		TaskID:    task,
		Operator:  h.Operator(),
		Approve:   approve,
		Signature: sig,
		Timestamp: time.Now().UTC(),
	}
}

func TestTaskIdsStartAtOne(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		ev, err := m.CreateTask(ctx, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, moderation.TaskID(i+1), ev.ID)
	}

	page, err := m.TaskRange(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, moderation.TaskID(2), page[0].ID)
	assert.Equal(t, moderation.TaskID(3), page[1].ID)

	page, err = m.TaskRange(ctx, 6, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStreamWaitsForNewTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMemory()
	_, err := m.CreateTask(ctx, []byte("a"))
	require.NoError(t, err)

	stream, err := m.StreamTaskCreated(ctx, 1)
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, moderation.TaskID(1), ev.ID)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.CreateTask(context.Background(), []byte("b"))
	}()

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, moderation.TaskID(2), ev.ID)
	assert.Equal(t, []byte("b"), ev.Content)
}

func TestReplayOverlapRedelivers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetReplayOverlap(2)

	for i := 0; i < 4; i++ {
		_, err := m.CreateTask(ctx, []byte{byte(i)})
		require.NoError(t, err)
	}

	stream, err := m.StreamTaskCreated(ctx, 4)
	require.NoError(t, err)

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, moderation.TaskID(2), ev.ID)
}

func TestDisconnectEndsStreams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMemory()

	stream, err := m.StreamTaskCreated(ctx, 1)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Disconnect()
	}()

	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, err, moderation.ErrTransient)
}

func TestSubmitEnforcesOneVotePerOperator(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h := newHolder(t)
	require.NoError(t, RegisterOperator(ctx, m, h))

	ev, err := m.CreateTask(ctx, []byte("post"))
	require.NoError(t, err)

	first, err := m.SubmitAttestation(ctx, attest(t, h, ev.ID, ev.Content, true))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.NotEqual(t, [32]byte{}, first.TxHash)

	_, err = m.SubmitAttestation(ctx, attest(t, h, ev.ID, ev.Content, false))
	require.ErrorIs(t, err, moderation.ErrRejected)
	assert.Equal(t, moderation.ReasonAlreadyVoted, moderation.RejectionReason(err))

	votes, err := m.TaskVotes(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].Approve, "the first vote must stay")
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	registered := newHolder(t)
	outsider := newHolder(t)
	require.NoError(t, RegisterOperator(ctx, m, registered))

	ev, err := m.CreateTask(ctx, []byte("post"))
	require.NoError(t, err)

	_, err = m.SubmitAttestation(ctx, attest(t, registered, 9, ev.Content, true))
	assert.Equal(t, moderation.ReasonUnknownTask, moderation.RejectionReason(err))

	_, err = m.SubmitAttestation(ctx, attest(t, outsider, ev.ID, ev.Content, true))
	assert.Equal(t, moderation.ReasonNotRegistered, moderation.RejectionReason(err))

	bad := attest(t, registered, ev.ID, []byte("other content"), true)
	_, err = m.SubmitAttestation(ctx, bad)
	assert.Equal(t, moderation.ReasonBadSignature, moderation.RejectionReason(err))
}

func TestInjectedFailuresAreTransient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h := newHolder(t)
	require.NoError(t, RegisterOperator(ctx, m, h))

	ev, err := m.CreateTask(ctx, []byte("post"))
	require.NoError(t, err)

	m.FailSubmissions(2)
	att := attest(t, h, ev.ID, ev.Content, true)

	for i := 0; i < 2; i++ {
		_, err := m.SubmitAttestation(ctx, att)
		require.ErrorIs(t, err, moderation.ErrTransient)
	}

	_, err = m.SubmitAttestation(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Submissions())
}

func TestRegistrationLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h := newHolder(t)
	op := h.Operator()

	service := moderation.Registration{Operator: op, State: moderation.ServiceRegistered, PublicKey: h.PublicKey()}
	err := m.Register(ctx, service, h.RegistrationProof())
	assert.Equal(t, moderation.ReasonNotRegistered, moderation.RejectionReason(err), "service needs stake first")

	regs, err := m.Operators(ctx)
	require.NoError(t, err)
	assert.Empty(t, regs)

	require.NoError(t, RegisterOperator(ctx, m, h))

	reg, err := m.QueryRegistration(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, moderation.ServiceRegistered, reg.State)
	assert.Equal(t, h.PublicKey(), reg.PublicKey)

	require.NoError(t, m.Register(ctx, moderation.Registration{Operator: op, State: moderation.StakeRegistered}, nil))
	reg, err = m.QueryRegistration(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, moderation.ServiceRegistered, reg.State, "stake replay must not lower the state")

	require.NoError(t, m.Deregister(ctx, op))
	reg, err = m.QueryRegistration(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, moderation.Unregistered, reg.State)
	assert.Nil(t, reg.PublicKey)
}

func TestBadRegistrationProof(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h := newHolder(t)
	other := newHolder(t)

	require.NoError(t, m.Register(ctx, moderation.Registration{Operator: h.Operator(), State: moderation.StakeRegistered}, nil))

	service := moderation.Registration{Operator: h.Operator(), State: moderation.ServiceRegistered, PublicKey: h.PublicKey()}
	err := m.Register(ctx, service, other.RegistrationProof())
	assert.Equal(t, moderation.ReasonBadSignature, moderation.RejectionReason(err))
}

func TestUnavailableFailsEverything(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetUnavailable(true)

	_, err := m.TaskRange(ctx, 1, 10)
	assert.True(t, errors.Is(err, moderation.ErrTransient))

	_, err = m.StreamTaskCreated(ctx, 1)
	assert.True(t, errors.Is(err, moderation.ErrTransient))

	m.SetUnavailable(false)
	_, err = m.TaskRange(ctx, 1, 10)
	assert.NoError(t, err)
}
