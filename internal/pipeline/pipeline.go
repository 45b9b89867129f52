package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"GuardianScope/internal/evaluator"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/storage"
	"GuardianScope/internal/submit"
)

const (
	defaultInterval     = 500 * time.Millisecond
	defaultEvalTimeout  = 10 * time.Second
	defaultConcurrency  = 8
	defaultRedriveAfter = time.Minute
)

// Store is the pipeline's view of the task store.
type Store interface {
	Open() []moderation.Task
	Status(id moderation.TaskID) (moderation.Status, bool)
	HasVoted(id moderation.TaskID, op moderation.OperatorID) bool
	OnFinalized(fn func(moderation.Task))
}

// Registry answers live eligibility queries.
type Registry interface {
	Eligible(op moderation.OperatorID) bool
}

// Submitter delivers signed attestations.
type Submitter interface {
	Submit(ctx context.Context, att moderation.Attestation) (submit.Result, error)
}

// Config holds scheduling and evaluation limits.
type Config struct {
	Interval     time.Duration // Interval between scheduling passes
	EvalTimeout  time.Duration // EvalTimeout bounds one evaluator call
	EvalRate     float64       // EvalRate caps evaluator calls per second, 0 for no cap
	EvalBurst    int           // EvalBurst is the limiter burst
	Concurrency  int           // Concurrency bounds evaluator calls running at once
	RedriveAfter time.Duration // RedriveAfter delays re-submitting persistently failed votes
}

// Deps are the collaborators of the pipeline. DB may be nil for a
// memory-only pipeline.
type Deps struct {
	Store      Store
	Registry   Registry
	Keyring    *signing.Keyring
	Evaluator  evaluator.Evaluator
	Evaluators map[moderation.OperatorID]evaluator.Evaluator // Evaluators overrides Evaluator per operator
	Submitter  Submitter
	DB         *storage.Storage
}

// job is one running (task, operator) unit.
type job struct {
	pair
	cancel context.CancelFunc
}

// Pipeline schedules evaluate, sign and submit for every open task and
// every eligible local operator that has not voted yet.
type Pipeline struct {
	cfg  Config
	deps Deps

	limiter *rate.Limiter
	sem     *semaphore.Weighted

	inflight *xsync.MapOf[pair, *job]
	markers  *xsync.MapOf[pair, marker] // markers mirrors the persisted markers

	trigger chan struct{}
	wg      sync.WaitGroup
}

// New creates a pipeline and subscribes it to task finalization.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = defaultEvalTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RedriveAfter <= 0 {
		cfg.RedriveAfter = defaultRedriveAfter
	}

	limit := rate.Inf
	if cfg.EvalRate > 0 {
		limit = rate.Limit(cfg.EvalRate)
		cfg.EvalBurst = max(cfg.EvalBurst, 1)
	}

	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		limiter:  rate.NewLimiter(limit, cfg.EvalBurst),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		inflight: xsync.NewMapOf[pair, *job](),
		markers:  xsync.NewMapOf[pair, marker](),
		trigger:  make(chan struct{}, 1),
	}

	deps.Store.OnFinalized(p.finalized)

	return p
}

// Load restores persisted markers. Markers holding a decision are kept for
// re-driving without a new evaluation, refusals to keep the pair stopped;
// the rest are cleared.
// The task store must be loaded first.
func (p *Pipeline) Load() error {
	if p.deps.DB == nil {
		return nil
	}

	var stale [][]byte
	restored := 0

	err := p.deps.DB.IteratePrefix(markerPrefix, func(key, value []byte) error {
		k, err := parseMarkerKey(key)
		if err != nil {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}

		m, err := decodeMarker(value)
		if err != nil || !m.decided || p.settled(k) {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}

		p.markers.Store(k, m)
		restored++

		return nil
	})
	if err != nil {
		return fmt.Errorf("load markers:\n%w", err)
	}

	if len(stale) > 0 {
		batch := p.deps.DB.NewBatch()
		for _, key := range stale {
			batch.Delete(key)
		}
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("clear stale markers:\n%w", err)
		}
	}

	logger.Info("pipeline markers restored",
		"component", "pipeline",
		"redrive", restored,
		"cleared", len(stale),
	)

	return nil
}

// Run schedules a pass on every tick and every Trigger until ctx is done,
// then waits for running jobs.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	for {
		p.Pass(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
	}
}

// Trigger requests a pass without waiting for the next tick.
func (p *Pipeline) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Pass starts a job for every schedulable pair and returns how many started.
func (p *Pipeline) Pass(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	ops := p.deps.Keyring.Operators()
	started := 0

	for _, task := range p.deps.Store.Open() {
		for _, op := range ops {
			if p.schedule(ctx, task, op) {
				started++
			}
		}
	}

	return started
}

// Wait blocks until every started job has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// InFlight returns the number of running jobs.
func (p *Pipeline) InFlight() int {
	return p.inflight.Size()
}

// Markers returns the number of unsettled pairs, running or awaiting a redrive.
// Pairs the ledger refused are not counted.
func (p *Pipeline) Markers() int {
	n := 0
	p.markers.Range(func(_ pair, m marker) bool {
		if !m.refused {
			n++
		}
		return true
	})

	return n
}

func (p *Pipeline) schedule(ctx context.Context, task moderation.Task, op moderation.OperatorID) bool {
	if task.HasVoted(op) || !p.deps.Registry.Eligible(op) {
		return false
	}

	k := pair{task: task.ID, operator: op}

	m, hasMarker := p.markers.Load(k)
	if hasMarker && m.refused {
		return false
	}
	if hasMarker && !m.failedAt.IsZero() && time.Since(m.failedAt) < p.cfg.RedriveAfter {
		return false
	}

	jctx, cancel := context.WithCancel(ctx)
	j := &job{pair: k, cancel: cancel}

	if _, loaded := p.inflight.LoadOrStore(k, j); loaded {
		cancel()
		return false
	}

	metrics.InFlight.Inc()
	p.wg.Add(1)

	go p.drive(jctx, j, task.Content, m)

	return true
}

// drive takes one pair from evaluation to a settled submission.
func (p *Pipeline) drive(ctx context.Context, j *job, content []byte, m marker) {
	defer p.wg.Done()
	defer func() {
		j.cancel()
		p.inflight.Delete(j.pair)
		metrics.InFlight.Dec()
	}()

	k := j.pair

	if !m.decided {
		approve, ok := p.evaluate(ctx, k, content)
		if !ok {
			p.clearMarker(k)
			return
		}

		m = marker{decided: true, approve: approve}
		p.saveMarker(k, m)
	}

	if !p.live(ctx, k) {
		p.settle(k)
		return
	}

	att, err := p.sign(ctx, k, content, m.approve)
	if err != nil {
		logger.Warn("signing failed",
			"component", "pipeline",
			"task", k.task,
			"operator", k.operator.Short(),
			"error", err,
		)
		return
	}

	if !p.live(ctx, k) {
		p.settle(k)
		return
	}

	res, err := p.deps.Submitter.Submit(ctx, att)

	switch {
	case err == nil && res.Outcome == submit.Rejected:
		p.refuse(k, m, res.Reason)

	case err == nil:
		p.clearMarker(k)
		logger.Debug("attestation settled",
			"component", "pipeline",
			"task", k.task,
			"operator", k.operator.Short(),
			"outcome", res.Outcome,
			"reason", res.Reason,
			"attempts", res.Attempts,
		)

	case errors.Is(err, moderation.ErrPersistentFailure):
		m.failedAt = time.Now()
		p.saveMarker(k, m)

	case errors.Is(err, moderation.ErrUnverifiable), errors.Is(err, moderation.ErrUnknownTask):
		p.clearMarker(k)

	case ctx.Err() != nil:
		p.settle(k)

	default:
		logger.Warn("submission aborted",
			"component", "pipeline",
			"task", k.task,
			"operator", k.operator.Short(),
			"error", err,
		)
	}
}

// evaluate runs the operator's evaluator under the rate and concurrency
// limits. ok is false when the pair should be retried on a later pass.
func (p *Pipeline) evaluate(ctx context.Context, k pair, content []byte) (approve, ok bool) {
	if !p.live(ctx, k) {
		return false, false
	}

	p.saveMarker(k, marker{})

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, false
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return false, false
	}

	if !p.live(ctx, k) {
		return false, false
	}

	ev := evaluator.Timeout{Inner: p.evaluatorFor(k.operator), Timeout: p.cfg.EvalTimeout}

	approve, err := ev.Evaluate(ctx, content)
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}

		metrics.Evaluations.WithLabelValues("error").Inc()
		logger.Warn("evaluation failed",
			"component", "pipeline",
			"task", k.task,
			"operator", k.operator.Short(),
			"error", err,
		)

		return false, false
	}

	metrics.Evaluations.WithLabelValues(moderation.DecisionOf(approve).String()).Inc()

	return approve, true
}

func (p *Pipeline) sign(ctx context.Context, k pair, content []byte, approve bool) (moderation.Attestation, error) {
	holder, ok := p.deps.Keyring.Holder(k.operator)
	if !ok {
		return moderation.Attestation{}, fmt.Errorf("no key holder for %s", k.operator.Short())
	}

	sig, err := holder.Sign(ctx, signing.CanonicalMessage(content, approve))
	if err != nil {
		return moderation.Attestation{}, fmt.Errorf("sign attestation:\n%w", err)
	}

	return moderation.Attestation{
		TaskID:    k.task,
		Operator:  k.operator,
		Approve:   approve,
		Signature: sig,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *Pipeline) evaluatorFor(op moderation.OperatorID) evaluator.Evaluator {
	if ev, ok := p.deps.Evaluators[op]; ok {
		return ev
	}

	return p.deps.Evaluator
}

// refuse records a ledger rejection. Refusals that cannot change for this
// pair stop it until the task finalizes; a missing registration waits for
// the redrive delay, as the next refresh will likely drop the operator.
func (p *Pipeline) refuse(k pair, m marker, reason string) {
	switch reason {
	case moderation.ReasonNotRegistered:
		m.failedAt = time.Now()
	default:
		m.refused = true
	}

	p.saveMarker(k, m)

	logger.Debug("attestation refused",
		"component", "pipeline",
		"task", k.task,
		"operator", k.operator.Short(),
		"reason", reason,
		"final", m.refused,
	)
}

// live reports whether work on k is still wanted.
func (p *Pipeline) live(ctx context.Context, k pair) bool {
	return ctx.Err() == nil && !p.settled(k)
}

// settled reports whether k no longer needs a vote, or can no longer cast one.
func (p *Pipeline) settled(k pair) bool {
	if m, ok := p.markers.Load(k); ok && m.refused {
		return true
	}

	status, ok := p.deps.Store.Status(k.task)

	return !ok || status == moderation.StatusFinalized || p.deps.Store.HasVoted(k.task, k.operator)
}

// settle drops the marker of a stopped job unless it holds a decision that
// is still needed, as on shutdown, or a refusal.
func (p *Pipeline) settle(k pair) {
	m, ok := p.markers.Load(k)
	if ok && (m.refused || m.decided && !p.settled(k)) {
		return
	}

	p.clearMarker(k)
}

// finalized cancels the jobs of a task that just reached its decision.
func (p *Pipeline) finalized(task moderation.Task) {
	p.inflight.Range(func(k pair, j *job) bool {
		if k.task == task.ID {
			j.cancel()
		}
		return true
	})

	p.markers.Range(func(k pair, _ marker) bool {
		if k.task == task.ID {
			if _, running := p.inflight.Load(k); !running {
				p.clearMarker(k)
			}
		}
		return true
	})
}

func (p *Pipeline) saveMarker(k pair, m marker) {
	p.markers.Store(k, m)

	if p.deps.DB == nil {
		return
	}

	if err := p.deps.DB.Set(markerKey(k), encodeMarker(m)); err != nil {
		logger.Warn("persist marker failed", "component", "pipeline", "task", k.task, "error", err)
	}
}

func (p *Pipeline) clearMarker(k pair) {
	p.markers.Delete(k)

	if p.deps.DB == nil {
		return
	}

	if err := p.deps.DB.Delete(markerKey(k)); err != nil {
		logger.Warn("clear marker failed", "component", "pipeline", "task", k.task, "error", err)
	}
}
