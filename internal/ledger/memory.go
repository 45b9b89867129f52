package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/wire"
)

// errUnavailable is returned while the ledger is marked unavailable.
var errUnavailable = moderation.Transient(errors.New("ledger unavailable"))

type voteKey struct {
	task moderation.TaskID
	op   moderation.OperatorID
}

// Memory is an authoritative in-process ledger. It assigns task ids from 1,
// enforces one attestation per (task, operator) and numbers each identity's
// accepted submissions.
type Memory struct {
	mu          sync.Mutex
	tasks       []moderation.TaskCreated                           // tasks holds id i at index i-1
	regs        map[moderation.OperatorID]*moderation.Registration // regs holds every registration ever made
	votes       map[voteKey]moderation.Vote                        // votes holds accepted attestations
	sequence    map[moderation.OperatorID]uint64                   // sequence is the last number per identity
	notify      chan struct{}                                      // notify is closed and replaced on every new task
	generation  uint64                                             // generation invalidates streams on Disconnect
	failures    int                                                // failures is the count of injected transient submit failures
	unavailable bool                                               // unavailable fails every call
	submissions int                                                // submissions counts every submit attempt
	overlap     int                                                // overlap is the replay distance of new streams
	now         func() time.Time
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		regs:     make(map[moderation.OperatorID]*moderation.Registration),
		votes:    make(map[voteKey]moderation.Vote),
		sequence: make(map[moderation.OperatorID]uint64),
		notify:   make(chan struct{}),
		now:      time.Now,
	}
}

// CreateTask appends a task.
func (m *Memory) CreateTask(ctx context.Context, content []byte) (moderation.TaskCreated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return moderation.TaskCreated{}, errUnavailable
	}

	ev := moderation.TaskCreated{
		ID:        moderation.TaskID(len(m.tasks) + 1),
		Content:   append([]byte(nil), content...),
		CreatedAt: m.now().UTC(),
	}
	m.tasks = append(m.tasks, ev)

	close(m.notify)
	m.notify = make(chan struct{})

	logger.Debug("task created", "component", "ledger", "task", ev.ID, "size", len(content))

	return ev, nil
}

// TaskRange returns up to limit tasks with id >= from.
func (m *Memory) TaskRange(ctx context.Context, from moderation.TaskID, limit int) ([]moderation.TaskCreated, error) {
	if err := ctx.Err(); err != nil {
		return nil, moderation.Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, errUnavailable
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if from < 1 {
		from = 1
	}

	start := int(from - 1)
	if start >= len(m.tasks) {
		return nil, nil
	}

	end := min(start+limit, len(m.tasks))

	return append([]moderation.TaskCreated(nil), m.tasks[start:end]...), nil
}

// StreamTaskCreated opens a stream at from, minus the replay overlap.
func (m *Memory) StreamTaskCreated(ctx context.Context, from moderation.TaskID) (TaskStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, errUnavailable
	}

	next := int64(from) - int64(m.overlap)
	if next < 1 {
		next = 1
	}

	return &memoryStream{
		ledger:     m,
		next:       moderation.TaskID(next),
		generation: m.generation,
		closed:     make(chan struct{}),
	}, nil
}

// SubmitAttestation accepts an attestation from a service-registered operator
// whose signature verifies, once per task.
func (m *Memory) SubmitAttestation(ctx context.Context, att moderation.Attestation) (moderation.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return moderation.Receipt{}, moderation.Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions++

	if m.unavailable {
		return moderation.Receipt{}, errUnavailable
	}

	if m.failures > 0 {
		m.failures--
		return moderation.Receipt{}, moderation.Transient(errors.New("injected submission failure"))
	}

	if att.TaskID < 1 || int(att.TaskID) > len(m.tasks) {
		return moderation.Receipt{}, moderation.Rejection(moderation.ReasonUnknownTask)
	}

	reg := m.regs[att.Operator]
	if reg == nil || reg.State != moderation.ServiceRegistered {
		return moderation.Receipt{}, moderation.Rejection(moderation.ReasonNotRegistered)
	}

	key := voteKey{task: att.TaskID, op: att.Operator}
	if _, ok := m.votes[key]; ok {
		return moderation.Receipt{}, moderation.Rejection(moderation.ReasonAlreadyVoted)
	}

	if !signing.VerifyAttestation(att, m.tasks[att.TaskID-1].Content, reg.PublicKey) {
		return moderation.Receipt{}, moderation.Rejection(moderation.ReasonBadSignature)
	}

	m.sequence[att.Operator]++
	seq := m.sequence[att.Operator]

	receipt := moderation.Receipt{
		TaskID:   att.TaskID,
		Operator: att.Operator,
		TxHash:   txHash(att, seq),
		Sequence: seq,
	}

	att.Signature = append([]byte(nil), att.Signature...)
	m.votes[key] = moderation.Vote{Attestation: att, Receipt: receipt}

	return receipt, nil
}

// QueryRegistration returns an operator's registration, Unregistered if unknown.
func (m *Memory) QueryRegistration(ctx context.Context, op moderation.OperatorID) (moderation.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return moderation.Registration{}, errUnavailable
	}

	reg := m.regs[op]
	if reg == nil {
		return moderation.Registration{Operator: op, State: moderation.Unregistered}, nil
	}

	return copyRegistration(reg), nil
}

// Operators returns every registration ordered by operator id.
func (m *Memory) Operators(ctx context.Context) ([]moderation.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, errUnavailable
	}

	regs := make([]moderation.Registration, 0, len(m.regs))
	for _, reg := range m.regs {
		regs = append(regs, copyRegistration(reg))
	}

	sort.Slice(regs, func(i, j int) bool {
		return bytes.Compare(regs[i].Operator[:], regs[j].Operator[:]) < 0
	})

	return regs, nil
}

// Register applies a stake or service registration. Repeating a registration
// is a no-op; service registration with a new key re-keys the operator.
func (m *Memory) Register(ctx context.Context, reg moderation.Registration, proof []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return errUnavailable
	}

	cur := m.regs[reg.Operator]
	if cur == nil {
		cur = &moderation.Registration{Operator: reg.Operator}
	}

	switch reg.State {
	case moderation.StakeRegistered:
		if cur.State < moderation.StakeRegistered {
			cur.State = moderation.StakeRegistered
		}

	case moderation.ServiceRegistered:
		if cur.State < moderation.StakeRegistered {
			return moderation.Rejection(moderation.ReasonNotRegistered)
		}

		if !signing.VerifyRegistration(reg.Operator, reg.PublicKey, proof) {
			return moderation.Rejection(moderation.ReasonBadSignature)
		}

		cur.State = moderation.ServiceRegistered
		cur.PublicKey = append([]byte(nil), reg.PublicKey...)

	default:
		return fmt.Errorf("cannot register into state %s", reg.State)
	}

	m.regs[reg.Operator] = cur

	logger.Info("operator registered", "component", "ledger", "operator", reg.Operator.Short(), "state", cur.State)

	return nil
}

// Deregister returns an operator to Unregistered and drops its key.
func (m *Memory) Deregister(ctx context.Context, op moderation.OperatorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return errUnavailable
	}

	cur := m.regs[op]
	if cur == nil {
		return moderation.Rejection(moderation.ReasonNotRegistered)
	}

	cur.State = moderation.Unregistered
	cur.PublicKey = nil

	logger.Info("operator deregistered", "component", "ledger", "operator", op.Short())

	return nil
}

// TaskVotes returns the accepted attestations for a task, ordered by operator id.
func (m *Memory) TaskVotes(ctx context.Context, task moderation.TaskID) ([]moderation.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, errUnavailable
	}

	var votes []moderation.Vote
	for key, v := range m.votes {
		if key.task == task {
			votes = append(votes, v)
		}
	}

	sort.Slice(votes, func(i, j int) bool {
		return bytes.Compare(votes[i].Operator[:], votes[j].Operator[:]) < 0
	})

	return votes, nil
}

// Submissions returns the number of submit attempts received.
func (m *Memory) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.submissions
}

// FailSubmissions makes the next n submissions fail transiently.
func (m *Memory) FailSubmissions(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// SetUnavailable makes every call fail transiently until reset.
// Going unavailable also ends every open stream.
func (m *Memory) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unavailable = unavailable
	if unavailable {
		m.disconnectLocked()
	}
}

// SetReplayOverlap makes new streams start n ids before the requested one,
// redelivering events the caller already has.
func (m *Memory) SetReplayOverlap(n int) {
	m.mu.Lock()
	m.overlap = n
	m.mu.Unlock()
}

// Disconnect ends every open stream.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectLocked()
}

func (m *Memory) disconnectLocked() {
	m.generation++
	close(m.notify)
	m.notify = make(chan struct{})
}

// Len returns the number of tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.tasks)
}

func copyRegistration(reg *moderation.Registration) moderation.Registration {
	c := *reg
	if reg.PublicKey != nil {
		c.PublicKey = append([]byte(nil), reg.PublicKey...)
	}

	return c
}

// txHash derives a transaction reference from the attestation and its sequence.
func txHash(att moderation.Attestation, seq uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)

	h := blake3.New()
	h.Write(wire.EncodeAttestation(att))
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// memoryStream walks the task list lazily and waits for new tasks.
type memoryStream struct {
	ledger     *Memory
	next       moderation.TaskID // next is the id delivered by the next call
	generation uint64            // generation is the ledger generation at open
	closed     chan struct{}
	closeOnce  sync.Once
}

// Next returns the next task, waiting for one to be created.
func (s *memoryStream) Next(ctx context.Context) (moderation.TaskCreated, error) {
	m := s.ledger

	for {
		select {
		case <-s.closed:
			return moderation.TaskCreated{}, ErrStreamClosed
		default:
		}

		m.mu.Lock()
		if m.generation != s.generation || m.unavailable {
			m.mu.Unlock()
			return moderation.TaskCreated{}, ErrStreamClosed
		}

		if int(s.next) <= len(m.tasks) {
			ev := m.tasks[s.next-1]
			s.next++
			m.mu.Unlock()
			return ev, nil
		}

		wait := m.notify
		m.mu.Unlock()

		select {
		case <-wait:
		case <-s.closed:
			return moderation.TaskCreated{}, ErrStreamClosed
		case <-ctx.Done():
			return moderation.TaskCreated{}, ctx.Err()
		}
	}
}

// Close ends the stream.
func (s *memoryStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
