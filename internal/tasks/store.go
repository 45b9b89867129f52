package tasks

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/storage"
	"GuardianScope/internal/wire"
)

// Storage key prefixes.
var (
	prefixTask  = []byte("t:") // prefixTask + be64(id) -> TaskRecord
	prefixVote  = []byte("v:") // prefixVote + be64(id) + operator -> Vote
	prefixStats = []byte("s:") // prefixStats + operator -> completed, agreed
)

// Registry resolves the registration data the aggregator needs.
type Registry interface {
	// PublicKey returns the operator's registered BLS key, or nil.
	PublicKey(op moderation.OperatorID) []byte

	// EligibleCount returns the number of service-registered operators.
	EligibleCount() int
}

// Config holds the quorum policy.
type Config struct {
	Quorum   Quorum
	TieBreak TieBreak
}

// entry guards one task. Vote insertion and aggregation for a task happen
// under its own mutex only.
type entry struct {
	mu   sync.Mutex
	task moderation.Task
}

// Store owns moderation tasks and their votes, and aggregates votes into decisions.
type Store struct {
	cfg      Config
	registry Registry
	db       *storage.Storage // db persists tasks, nil keeps them in memory

	mu    sync.RWMutex
	tasks map[moderation.TaskID]*entry // tasks holds every known task

	statsMu sync.Mutex
	stats   map[moderation.OperatorID]moderation.OperatorStats

	hooksMu   sync.RWMutex
	hooks     []func(moderation.Task)
	voteHooks []func(moderation.Task)
}

// New creates a store. db may be nil.
func New(cfg Config, registry Registry, db *storage.Storage) *Store {
	return &Store{
		cfg:      cfg,
		registry: registry,
		db:       db,
		tasks:    make(map[moderation.TaskID]*entry),
		stats:    make(map[moderation.OperatorID]moderation.OperatorStats),
	}
}

// OnFinalized registers fn to run after a task reaches its decision.
// Hooks run outside the task lock, once per task.
func (s *Store) OnFinalized(fn func(moderation.Task)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// OnVote registers fn to run after each recorded vote, outside the task lock.
func (s *Store) OnVote(fn func(moderation.Task)) {
	s.hooksMu.Lock()
	s.voteHooks = append(s.voteHooks, fn)
	s.hooksMu.Unlock()
}

// Upsert creates a Pending task for an unseen id. It returns false for a known id.
func (s *Store) Upsert(ev moderation.TaskCreated) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[ev.ID]; ok {
		return false, nil
	}

	t := moderation.Task{
		ID:        ev.ID,
		Content:   append([]byte(nil), ev.Content...),
		CreatedAt: ev.CreatedAt,
		Status:    moderation.StatusPending,
	}

	if s.db != nil {
		if err := s.db.Set(taskKey(t.ID), wire.EncodeTaskRecord(&t)); err != nil {
			return false, fmt.Errorf("persist task %d:\n%w", t.ID, err)
		}
	}

	s.tasks[ev.ID] = &entry{task: t}

	return true, nil
}

// RecordVote stores a confirmed vote and runs the aggregator over the task.
// It returns the task as it stands after the vote.
func (s *Store) RecordVote(v moderation.Vote) (moderation.Task, error) {
	e := s.entry(v.TaskID)
	if e == nil {
		return moderation.Task{}, moderation.ErrUnknownTask
	}

	e.mu.Lock()

	if e.task.Status == moderation.StatusFinalized {
		e.mu.Unlock()
		return moderation.Task{}, moderation.ErrTaskFinalized
	}

	if e.task.HasVoted(v.Operator) {
		e.mu.Unlock()
		return moderation.Task{}, moderation.ErrDuplicate
	}

	pk := s.registry.PublicKey(v.Operator)
	if pk == nil || !signing.VerifyAttestation(v.Attestation, e.task.Content, pk) {
		e.mu.Unlock()
		return moderation.Task{}, moderation.ErrUnverifiable
	}

	next := e.task.Clone()
	next.Votes = append(next.Votes, v)

	if next.Status == moderation.StatusPending {
		next.Status = moderation.StatusDeciding
		next.Eligible = max(s.registry.EligibleCount(), 1)
		next.Threshold = s.cfg.Quorum.Threshold(next.Eligible)
	}

	finalized := s.aggregate(&next)

	if err := s.persistVote(&next, v, finalized); err != nil {
		e.mu.Unlock()
		return moderation.Task{}, err
	}

	e.task = next
	out := next.Clone()
	e.mu.Unlock()

	metrics.VotesRecorded.Inc()

	s.hooksMu.RLock()
	voteHooks := append([]func(moderation.Task){}, s.voteHooks...)
	s.hooksMu.RUnlock()

	for _, fn := range voteHooks {
		fn(out)
	}

	if finalized {
		s.finalized(out)
	}

	return out, nil
}

// aggregate finalizes t when the quorum condition holds and reports whether it did.
func (s *Store) aggregate(t *moderation.Task) bool {
	decision, ok := decide(t, s.cfg.TieBreak)
	if !ok {
		return false
	}

	t.Status = moderation.StatusFinalized
	t.Decision = decision
	t.FinalizedAt = time.Now().UTC()
	t.Certificate = certificate(t)

	return true
}

// certificate aggregates the signatures of the votes that match the decision.
func certificate(t *moderation.Task) *moderation.Certificate {
	approve := t.Decision == moderation.Approved

	var (
		sigs    [][]byte
		signers []moderation.OperatorID
	)

	for _, v := range t.Votes {
		if v.Approve == approve {
			sigs = append(sigs, v.Signature)
			signers = append(signers, v.Operator)
		}
	}

	// Tie-break decisions can have no signer on the winning side.
	if len(sigs) == 0 {
		return nil
	}

	agg, err := signing.AggregateSignatures(sigs)
	if err != nil {
		logger.Warn("certificate aggregation failed", "task", t.ID, "error", err)
		return nil
	}

	return &moderation.Certificate{
		Decision:  t.Decision,
		Signature: agg,
		Signers:   signers,
	}
}

// persistVote writes the vote, the task record and, on finalization, the stats.
func (s *Store) persistVote(t *moderation.Task, v moderation.Vote, finalized bool) error {
	if !finalized {
		if s.db == nil {
			return nil
		}

		b := s.db.NewBatch()
		b.Set(voteKey(v.TaskID, v.Operator), wire.EncodeVote(v))
		b.Set(taskKey(t.ID), wire.EncodeTaskRecord(t))

		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist vote on task %d:\n%w", t.ID, err)
		}

		return nil
	}

	return s.commitFinalized(t, &v)
}

// commitFinalized writes a finalized task, the triggering vote when set, and the
// voters' updated stats. Stats are only published once the batch is committed.
func (s *Store) commitFinalized(t *moderation.Task, v *moderation.Vote) error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	updated := s.creditVoters(t)

	if s.db != nil {
		b := s.db.NewBatch()
		if v != nil {
			b.Set(voteKey(v.TaskID, v.Operator), wire.EncodeVote(*v))
		}
		b.Set(taskKey(t.ID), wire.EncodeTaskRecord(t))

		for op, st := range updated {
			b.Set(statsKey(op), encodeStats(st))
		}

		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist finalized task %d:\n%w", t.ID, err)
		}
	}

	for op, st := range updated {
		s.stats[op] = st
	}

	return nil
}

// creditVoters computes the stats of every voter of a finalized task.
// The caller holds statsMu.
func (s *Store) creditVoters(t *moderation.Task) map[moderation.OperatorID]moderation.OperatorStats {
	approve := t.Decision == moderation.Approved
	updated := make(map[moderation.OperatorID]moderation.OperatorStats, len(t.Votes))

	for _, v := range t.Votes {
		st := s.stats[v.Operator]
		st.Completed++
		if v.Approve == approve {
			st.Agreed++
		}
		updated[v.Operator] = st
	}

	return updated
}

// finalized records metrics and runs hooks for a task that just finalized.
func (s *Store) finalized(t moderation.Task) {
	approve, reject := t.Tally()

	metrics.TasksFinalized.WithLabelValues(t.Decision.String()).Inc()

	logger.Info("task finalized",
		"task", t.ID,
		"decision", t.Decision,
		"approve", approve,
		"reject", reject,
		"eligible", t.Eligible,
		"threshold", t.Threshold,
	)

	s.hooksMu.RLock()
	hooks := append([]func(moderation.Task){}, s.hooks...)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(t)
	}
}

// Sweep re-runs the aggregator over every deciding task and returns the ids it finalized.
func (s *Store) Sweep() []moderation.TaskID {
	var done []moderation.TaskID

	for _, e := range s.entries() {
		e.mu.Lock()

		if e.task.Status != moderation.StatusDeciding {
			e.mu.Unlock()
			continue
		}

		next := e.task.Clone()
		if !s.aggregate(&next) {
			e.mu.Unlock()
			continue
		}

		if err := s.commitFinalized(&next, nil); err != nil {
			e.mu.Unlock()
			logger.Warn("sweep persist failed", "task", next.ID, "error", err)
			continue
		}

		e.task = next
		out := next.Clone()
		e.mu.Unlock()

		done = append(done, out.ID)
		s.finalized(out)
	}

	return done
}

// Get returns a copy of the task.
func (s *Store) Get(id moderation.TaskID) (moderation.Task, bool) {
	e := s.entry(id)
	if e == nil {
		return moderation.Task{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.task.Clone(), true
}

// Status returns the task's current status.
func (s *Store) Status(id moderation.TaskID) (moderation.Status, bool) {
	e := s.entry(id)
	if e == nil {
		return 0, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.task.Status, true
}

// HasVoted reports whether op has a recorded vote on the task.
func (s *Store) HasVoted(id moderation.TaskID, op moderation.OperatorID) bool {
	e := s.entry(id)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.task.HasVoted(op)
}

// List returns copies of every task ordered by id.
func (s *Store) List() []moderation.Task {
	return s.collect(func(*moderation.Task) bool { return true })
}

// Open returns copies of the non-finalized tasks ordered by id.
func (s *Store) Open() []moderation.Task {
	return s.collect(func(t *moderation.Task) bool {
		return t.Status != moderation.StatusFinalized
	})
}

func (s *Store) collect(keep func(*moderation.Task) bool) []moderation.Task {
	var out []moderation.Task

	for _, e := range s.entries() {
		e.mu.Lock()
		if keep(&e.task) {
			out = append(out, e.task.Clone())
		}
		e.mu.Unlock()
	}

	return out
}

// Len returns the number of known tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tasks)
}

// Stats returns an operator's participation counters.
func (s *Store) Stats(op moderation.OperatorID) moderation.OperatorStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	return s.stats[op]
}

// entry returns the task's entry or nil.
func (s *Store) entry(id moderation.TaskID) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tasks[id]
}

// entries returns every entry ordered by task id.
func (s *Store) entries() []*entry {
	s.mu.RLock()
	ids := make([]moderation.TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e := s.entry(id); e != nil {
			out = append(out, e)
		}
	}

	return out
}

// Load restores tasks, votes and stats from storage.
func (s *Store) Load() error {
	if s.db == nil {
		return nil
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.IteratePrefix(prefixTask, func(_, value []byte) error {
		t, err := wire.DecodeTaskRecord(value)
		if err != nil {
			return err
		}

		s.tasks[t.ID] = &entry{task: *t}

		return nil
	})
	if err != nil {
		return fmt.Errorf("load tasks:\n%w", err)
	}

	err = s.db.IteratePrefix(prefixVote, func(_, value []byte) error {
		v, err := wire.DecodeVote(value)
		if err != nil {
			return err
		}

		e, ok := s.tasks[v.TaskID]
		if !ok {
			return fmt.Errorf("vote for unknown task %d", v.TaskID)
		}

		e.task.Votes = append(e.task.Votes, v)

		return nil
	})
	if err != nil {
		return fmt.Errorf("load votes:\n%w", err)
	}

	for _, e := range s.tasks {
		votes := e.task.Votes
		sort.SliceStable(votes, func(i, j int) bool {
			return votes[i].Timestamp.Before(votes[j].Timestamp)
		})
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	err = s.db.IteratePrefix(prefixStats, func(key, value []byte) error {
		if len(key) != len(prefixStats)+32 || len(value) != 16 {
			return fmt.Errorf("invalid stats record")
		}

		var op moderation.OperatorID
		copy(op[:], key[len(prefixStats):])

		s.stats[op] = moderation.OperatorStats{
			Completed: binary.BigEndian.Uint64(value[:8]),
			Agreed:    binary.BigEndian.Uint64(value[8:]),
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("load stats:\n%w", err)
	}

	logger.Info("task store loaded", "tasks", len(s.tasks), logger.Timed(start))

	return nil
}

func taskKey(id moderation.TaskID) []byte {
	return storage.Key(prefixTask, uint64(id))
}

func voteKey(id moderation.TaskID, op moderation.OperatorID) []byte {
	return storage.Key(prefixVote, uint64(id), op[:])
}

func statsKey(op moderation.OperatorID) []byte {
	return storage.Key(prefixStats, op[:])
}

func encodeStats(st moderation.OperatorStats) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], st.Completed)
	binary.BigEndian.PutUint64(buf[8:], st.Agreed)

	return buf
}
