package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"GuardianScope/internal/alert"
	"GuardianScope/internal/evaluator"
	"GuardianScope/internal/ingest"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/pipeline"
	"GuardianScope/internal/registration"
	"GuardianScope/internal/signing"
	"GuardianScope/internal/storage"
	"GuardianScope/internal/submit"
	"GuardianScope/internal/tasks"
)

const (
	defaultSweepInterval    = 5 * time.Second
	defaultRefreshInterval  = 30 * time.Second
	defaultVoteSyncInterval = 2 * time.Second
)

// Config gathers the policy and timing of every component.
type Config struct {
	Tasks            tasks.Config
	Ingest           ingest.Config
	Pipeline         pipeline.Config
	Submit           submit.Config
	SweepInterval    time.Duration // SweepInterval between aggregator sweeps
	RefreshInterval  time.Duration // RefreshInterval between registration syncs
	VoteSyncInterval time.Duration // VoteSyncInterval between ledger vote pulls
	FailureLog       int           // FailureLog bounds the failure log
}

// Deps are the external collaborators. DB may be nil for a memory-only engine.
type Deps struct {
	Client     ledger.Client
	Keyring    *signing.Keyring
	Evaluator  evaluator.Evaluator
	Evaluators map[moderation.OperatorID]evaluator.Evaluator
	DB         *storage.Storage
}

// Engine wires the operator's components and runs their loops.
type Engine struct {
	cfg  Config
	deps Deps

	tracker   *registration.Tracker
	store     *tasks.Store
	alerts    *alert.Log
	submitter *submit.Submitter
	ingestor  *ingest.Ingestor
	votes     *ingest.Votes
	pipeline  *pipeline.Pipeline
	feed      *Feed
}

// New builds the engine and restores persisted state.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.VoteSyncInterval <= 0 {
		cfg.VoteSyncInterval = defaultVoteSyncInterval
	}

	if err := cfg.Tasks.Quorum.Validate(); err != nil {
		return nil, fmt.Errorf("quorum policy:\n%w", err)
	}

	e := &Engine{cfg: cfg, deps: deps, feed: NewFeed()}

	e.tracker = registration.New(deps.DB)
	e.store = tasks.New(cfg.Tasks, e.tracker, deps.DB)
	e.alerts = alert.NewLog(cfg.FailureLog)
	e.submitter = submit.New(cfg.Submit, deps.Client, e.store, e.tracker, e.alerts)
	e.ingestor = ingest.New(cfg.Ingest, deps.Client, e.store, deps.DB)
	e.votes = ingest.NewVotes(deps.Client, e.store)
	e.pipeline = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:      e.store,
		Registry:   e.tracker,
		Keyring:    deps.Keyring,
		Evaluator:  deps.Evaluator,
		Evaluators: deps.Evaluators,
		Submitter:  e.submitter,
		DB:         deps.DB,
	})

	if err := e.load(); err != nil {
		e.submitter.Close()
		return nil, err
	}

	e.ingestor.OnIngested(func(moderation.TaskCreated) {
		e.pipeline.Trigger()
		e.feed.Notify()
	})
	e.store.OnVote(func(moderation.Task) { e.feed.Notify() })
	e.store.OnFinalized(func(moderation.Task) { e.feed.Notify() })
	e.alerts.Watch(func(moderation.Failure) { e.feed.Notify() })

	return e, nil
}

// load restores state in dependency order: registrations before tasks,
// tasks before markers.
func (e *Engine) load() error {
	if err := e.tracker.Load(); err != nil {
		return fmt.Errorf("load registrations:\n%w", err)
	}

	if err := e.store.Load(); err != nil {
		return fmt.Errorf("load tasks:\n%w", err)
	}

	if err := e.ingestor.Load(); err != nil {
		return fmt.Errorf("load cursor:\n%w", err)
	}

	if err := e.pipeline.Load(); err != nil {
		return fmt.Errorf("load markers:\n%w", err)
	}

	return nil
}

// Run syncs registrations, then runs ingestion, scheduling, vote mirroring,
// sweeping and registration refresh until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer e.submitter.Close()

	e.refresh(ctx)

	logger.Info("engine started",
		"component", "engine",
		"local", len(e.deps.Keyring.Operators()),
		"eligible", e.tracker.EligibleCount(),
		"tasks", e.store.Len(),
		"cursor", e.ingestor.Cursor(),
		"quorum", e.cfg.Tasks.Quorum,
		"tieBreak", e.cfg.Tasks.TieBreak,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.ingestor.Run(ctx) })
	g.Go(func() error { return e.pipeline.Run(ctx) })
	g.Go(func() error { return e.every(ctx, e.cfg.VoteSyncInterval, e.syncVotes) })
	g.Go(func() error { return e.every(ctx, e.cfg.SweepInterval, e.sweep) })
	g.Go(func() error { return e.every(ctx, e.cfg.RefreshInterval, e.refresh) })

	err := g.Wait()

	logger.Info("engine stopped", "component", "engine")

	return err
}

func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// syncVotes records the ledger votes cast by operators outside this process.
func (e *Engine) syncVotes(ctx context.Context) {
	n, err := e.votes.Sync(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warn("ledger vote sync failed", "component", "engine", "error", err)
	}

	if n > 0 {
		logger.Debug("ledger votes recorded", "component", "engine", "votes", n)
	}
}

// sweep finalizes tasks whose quorum condition holds outside a vote.
func (e *Engine) sweep(context.Context) {
	if done := e.store.Sweep(); len(done) > 0 {
		logger.Debug("sweep finalized tasks", "component", "engine", "tasks", done)
	}
}

// refresh pulls the ledger's registrations. Failures keep the current view.
func (e *Engine) refresh(ctx context.Context) {
	changed, err := e.tracker.Sync(ctx, e.deps.Client)
	if err != nil {
		logger.Warn("registration refresh failed", "component", "engine", "error", err)
		return
	}

	if changed > 0 {
		logger.Info("registrations updated",
			"component", "engine",
			"transitions", changed,
			"eligible", e.tracker.EligibleCount(),
		)
		e.pipeline.Trigger()
		e.feed.Notify()
	}
}

// Snapshot returns the observability view.
func (e *Engine) Snapshot() moderation.Snapshot {
	snap := moderation.Snapshot{
		GeneratedAt:  time.Now().UTC(),
		LastIngested: e.ingestor.Cursor(),
		Tasks:        []moderation.TaskView{},
		Operators:    e.Operators(),
		Failures:     e.alerts.List(),
	}

	for _, t := range e.store.List() {
		snap.Tasks = append(snap.Tasks, moderation.ViewOf(&t))
	}

	return snap
}

// Task returns the view of one task.
func (e *Engine) Task(id moderation.TaskID) (moderation.TaskView, bool) {
	t, ok := e.store.Get(id)
	if !ok {
		return moderation.TaskView{}, false
	}

	return moderation.ViewOf(&t), true
}

// Operators returns every known operator with its statistics.
func (e *Engine) Operators() []moderation.OperatorView {
	records := e.tracker.Operators()
	views := make([]moderation.OperatorView, 0, len(records))

	for _, r := range records {
		st := e.store.Stats(r.Operator)

		views = append(views, moderation.OperatorView{
			ID:        r.Operator.String(),
			State:     r.State.String(),
			Active:    r.Active(),
			Local:     e.deps.Keyring.IsLocal(r.Operator),
			Completed: st.Completed,
			Agreed:    st.Agreed,
			Accuracy:  st.Accuracy(),
		})
	}

	return views
}

// Failures returns the recent failure records.
func (e *Engine) Failures() []moderation.Failure {
	return e.alerts.List()
}

// Status is a summary for health checks.
type Status struct {
	Cursor   moderation.TaskID `json:"cursor"`
	Tasks    int               `json:"tasks"`
	Open     int               `json:"open"`
	InFlight int               `json:"inFlight"`
	Markers  int               `json:"markers"`
	Eligible int               `json:"eligible"`
	Local    int               `json:"local"`
	Lanes    int               `json:"lanes"`
	Failures int               `json:"failures"`
	Quorum   string            `json:"quorum"`
	TieBreak string            `json:"tieBreak"`
}

// Status returns the summary counters.
func (e *Engine) Status() Status {
	return Status{
		Cursor:   e.ingestor.Cursor(),
		Tasks:    e.store.Len(),
		Open:     len(e.store.Open()),
		InFlight: e.pipeline.InFlight(),
		Markers:  e.pipeline.Markers(),
		Eligible: e.tracker.EligibleCount(),
		Local:    len(e.deps.Keyring.Operators()),
		Lanes:    e.submitter.Lanes(),
		Failures: e.alerts.Len(),
		Quorum:   e.cfg.Tasks.Quorum.String(),
		TieBreak: e.cfg.Tasks.TieBreak.String(),
	}
}

// Subscribe registers for change notifications. See Feed.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.feed.Subscribe()
}
