package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GuardianScope/internal/moderation"
	"GuardianScope/internal/storage"
)

func op(b byte) moderation.OperatorID {
	var id moderation.OperatorID
	id[0] = b
	return id
}

type fakeSource struct {
	regs []moderation.Registration
	err  error
}

func (f *fakeSource) Operators(context.Context) ([]moderation.Registration, error) {
	return f.regs, f.err
}

func TestAdvanceThroughStates(t *testing.T) {
	tr := New(nil)
	a := op(1)

	assert.Equal(t, moderation.Unregistered, tr.CurrentState(a))
	assert.False(t, tr.Eligible(a))

	res, err := tr.Advance(a, StakeRegistered())
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, moderation.StakeRegistered, res.State)
	assert.False(t, tr.Eligible(a))

	res, err = tr.Advance(a, ServiceRegistered([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.True(t, tr.Eligible(a))
	assert.Equal(t, []byte{1, 2, 3}, tr.PublicKey(a))
	assert.Equal(t, 1, tr.EligibleCount())
}

func TestReplayIsAbsorbed(t *testing.T) {
	tr := New(nil)
	a := op(1)

	_, err := tr.Advance(a, ServiceRegistered([]byte{9}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := tr.Advance(a, ServiceRegistered([]byte{9}))
		require.NoError(t, err)
		assert.False(t, res.Advanced)
		assert.Equal(t, moderation.ServiceRegistered, res.State)

		res, err = tr.Advance(a, StakeRegistered())
		require.NoError(t, err)
		assert.False(t, res.Advanced, "stake event must not lower state")
		assert.Equal(t, moderation.ServiceRegistered, res.State)
	}
}

func TestServiceRegistrationNeedsKey(t *testing.T) {
	tr := New(nil)

	_, err := tr.Advance(op(1), ServiceRegistered(nil))
	assert.Error(t, err)
	assert.Equal(t, moderation.Unregistered, tr.CurrentState(op(1)))
}

func TestDeregistrationKeepsRecord(t *testing.T) {
	tr := New(nil)
	a := op(1)

	_, err := tr.Advance(a, ServiceRegistered([]byte{1}))
	require.NoError(t, err)

	res, err := tr.Advance(a, Deregistered())
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, moderation.Unregistered, res.State)
	assert.False(t, tr.Eligible(a))

	ops := tr.Operators()
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Active())

	res, err = tr.Advance(a, Deregistered())
	require.NoError(t, err)
	assert.False(t, res.Advanced)

	res, err = tr.Advance(a, StakeRegistered())
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.True(t, tr.Operators()[0].Active())
}

func TestDeregisterUnknownOperator(t *testing.T) {
	tr := New(nil)

	res, err := tr.Advance(op(5), Deregistered())
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Empty(t, tr.Operators())
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.New(dir)
	require.NoError(t, err)

	tr := New(db)
	_, err = tr.Advance(op(1), ServiceRegistered([]byte{7}))
	require.NoError(t, err)
	_, err = tr.Advance(op(2), StakeRegistered())
	require.NoError(t, err)
	_, err = tr.Advance(op(2), Deregistered())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.New(dir)
	require.NoError(t, err)
	defer db.Close()

	restored := New(db)
	require.NoError(t, restored.Load())

	assert.True(t, restored.Eligible(op(1)))
	assert.Equal(t, []byte{7}, restored.PublicKey(op(1)))
	assert.Equal(t, moderation.Unregistered, restored.CurrentState(op(2)))
	require.Len(t, restored.Operators(), 2)
	assert.False(t, restored.Operators()[1].Active())
}

func TestSyncFollowsLedger(t *testing.T) {
	tr := New(nil)
	src := &fakeSource{regs: []moderation.Registration{
		{Operator: op(1), State: moderation.ServiceRegistered, PublicKey: []byte{1}},
		{Operator: op(2), State: moderation.StakeRegistered},
		{Operator: op(3), State: moderation.Unregistered},
	}}

	n, err := tr.Sync(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, tr.EligibleCount())
	assert.Len(t, tr.Operators(), 2)

	n, err = tr.Sync(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, n, "second sync must be a no-op")
}

func TestSyncAppliesLowerLedgerState(t *testing.T) {
	tr := New(nil)
	_, err := tr.Advance(op(1), ServiceRegistered([]byte{1}))
	require.NoError(t, err)

	src := &fakeSource{regs: []moderation.Registration{
		{Operator: op(1), State: moderation.StakeRegistered},
	}}

	_, err = tr.Sync(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, moderation.StakeRegistered, tr.CurrentState(op(1)))
	assert.Nil(t, tr.PublicKey(op(1)))
}

func TestSyncPicksUpNewKey(t *testing.T) {
	tr := New(nil)
	_, err := tr.Advance(op(1), ServiceRegistered([]byte{1}))
	require.NoError(t, err)

	src := &fakeSource{regs: []moderation.Registration{
		{Operator: op(1), State: moderation.ServiceRegistered, PublicKey: []byte{2}},
	}}

	_, err = tr.Sync(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, tr.PublicKey(op(1)))
	assert.True(t, tr.Eligible(op(1)))
}

func TestSyncSourceError(t *testing.T) {
	tr := New(nil)
	boom := errors.New("boom")

	_, err := tr.Sync(context.Background(), &fakeSource{err: boom})
	assert.ErrorIs(t, err, boom)
}
