package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"GuardianScope/internal/alert"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/retry"
	"GuardianScope/internal/signing"
)

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("submitter closed")

// Outcome is the final result of one submission.
type Outcome uint8

const (
	Confirmed Outcome = iota
	Rejected
	TransientFailure // TransientFailure is never returned by Submit, only logged between retries
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case TransientFailure:
		return "transient"
	default:
		return "unknown"
	}
}

// Result describes a finished submission.
type Result struct {
	Outcome  Outcome
	Reason   string             // Reason is the ledger's rejection reason
	Receipt  moderation.Receipt // Receipt is set when confirmed
	Attempts int
}

// Store is the vote sink and content source of the submitter.
type Store interface {
	Get(id moderation.TaskID) (moderation.Task, bool)
	RecordVote(v moderation.Vote) (moderation.Task, error)
}

// Registry resolves registered verification keys.
type Registry interface {
	PublicKey(op moderation.OperatorID) []byte
}

// Config holds the retry policy.
type Config struct {
	MaxAttempts int           // MaxAttempts bounds tries per submission, first included
	BackoffMin  time.Duration // BackoffMin is the first retry delay
	BackoffMax  time.Duration // BackoffMax caps the retry delay
	QueueSize   int           // QueueSize bounds each operator's queue
}

type request struct {
	ctx  context.Context
	att  moderation.Attestation
	done chan response
}

type response struct {
	result Result
	err    error
}

// lane serializes the submissions of one operator identity.
type lane struct {
	queue chan *request
}

// Submitter sends attestations to the ledger through one FIFO lane per
// operator, so each identity has at most one submission outstanding.
type Submitter struct {
	cfg      Config
	client   ledger.Client
	store    Store
	registry Registry
	alerts   *alert.Log
	backoff  retry.Backoff

	lanes *xsync.MapOf[moderation.OperatorID, *lane]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a submitter. Lanes start on first use.
func New(cfg Config, client ledger.Client, store Store, registry Registry, alerts *alert.Log) *Submitter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Submitter{
		cfg:      cfg,
		client:   client,
		store:    store,
		registry: registry,
		alerts:   alerts,
		backoff:  retry.Backoff{Min: cfg.BackoffMin, Max: cfg.BackoffMax, Jitter: 0.2},
		lanes:    xsync.NewMapOf[moderation.OperatorID, *lane](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit verifies att locally, queues it on its operator's lane and waits
// for the final outcome. A rejection is a result, not an error. Errors are
// ErrUnverifiable, ErrPersistentFailure or a context error.
func (s *Submitter) Submit(ctx context.Context, att moderation.Attestation) (Result, error) {
	if err := s.verify(att); err != nil {
		return Result{}, err
	}

	req := &request{ctx: ctx, att: att, done: make(chan response, 1)}
	l := s.lane(att.Operator)

	select {
	case l.queue <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.ctx.Done():
		return Result{}, ErrClosed
	}

	select {
	case resp := <-req.done:
		return resp.result, resp.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.ctx.Done():
		return Result{}, ErrClosed
	}
}

// Lanes returns the number of started operator lanes.
func (s *Submitter) Lanes() int {
	return s.lanes.Size()
}

// Close stops every lane. Queued submissions fail with ErrClosed.
func (s *Submitter) Close() {
	s.cancel()
	s.wg.Wait()
}

// verify checks the signature against the registered key before anything
// is sent. Unverifiable attestations are dropped and alerted.
func (s *Submitter) verify(att moderation.Attestation) error {
	task, ok := s.store.Get(att.TaskID)
	if !ok {
		return fmt.Errorf("verify attestation:\n%w", moderation.ErrUnknownTask)
	}

	pk := s.registry.PublicKey(att.Operator)
	if pk != nil && signing.VerifyAttestation(att, task.Content, pk) {
		return nil
	}

	err := fmt.Errorf("%w: task %d operator %s", moderation.ErrUnverifiable, att.TaskID, att.Operator.Short())
	metrics.Submissions.WithLabelValues("unverifiable").Inc()
	s.alerts.Raise(moderation.FailureUnverifiable, att.TaskID, att.Operator, err)

	return err
}

func (s *Submitter) lane(op moderation.OperatorID) *lane {
	l, _ := s.lanes.LoadOrCompute(op, func() *lane {
		l := &lane{queue: make(chan *request, s.cfg.QueueSize)}

		s.wg.Add(1)
		go s.runLane(op, l)

		return l
	})

	return l
}

// runLane processes one operator's queue in order.
func (s *Submitter) runLane(op moderation.OperatorID, l *lane) {
	defer s.wg.Done()

	logger.Debug("submit lane started", "component", "submit", "operator", op.Short())

	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-l.queue:
			if req.ctx.Err() != nil {
				req.done <- response{err: req.ctx.Err()}
				continue
			}

			result, err := s.process(req)
			req.done <- response{result: result, err: err}
		}
	}
}

// process submits with retries on transient failures.
func (s *Submitter) process(req *request) (Result, error) {
	att := req.att
	start := time.Now()
	defer func() { metrics.SubmitDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		receipt, err := s.client.SubmitAttestation(ctx, att)

		switch {
		case err == nil:
			metrics.Submissions.WithLabelValues(Confirmed.String()).Inc()
			s.record(att, receipt)
			return Result{Outcome: Confirmed, Receipt: receipt, Attempts: attempt}, nil

		case errors.Is(err, moderation.ErrRejected):
			reason := moderation.RejectionReason(err)
			metrics.Submissions.WithLabelValues(Rejected.String()).Inc()
			logger.Info("attestation rejected",
				"component", "submit",
				"task", att.TaskID,
				"operator", att.Operator.Short(),
				"reason", reason,
			)
			return Result{Outcome: Rejected, Reason: reason, Attempts: attempt}, nil
		}

		if ctx.Err() != nil {
			if s.ctx.Err() != nil {
				return Result{}, ErrClosed
			}
			return Result{}, ctx.Err()
		}

		lastErr = err
		metrics.Submissions.WithLabelValues(TransientFailure.String()).Inc()
		logger.Debug("submission failed, retrying",
			"component", "submit",
			"task", att.TaskID,
			"operator", att.Operator.Short(),
			"attempt", attempt,
			"error", err,
		)

		if attempt == s.cfg.MaxAttempts {
			break
		}

		if err := retry.Sleep(ctx, s.backoff.Delay(attempt-1)); err != nil {
			if s.ctx.Err() != nil {
				return Result{}, ErrClosed
			}
			return Result{}, err
		}
	}

	err := fmt.Errorf("%w: task %d after %d attempts: %v",
		moderation.ErrPersistentFailure, att.TaskID, s.cfg.MaxAttempts, lastErr)
	metrics.Submissions.WithLabelValues("persistent_failure").Inc()
	s.alerts.Raise(moderation.FailurePersistent, att.TaskID, att.Operator, err)

	return Result{Attempts: s.cfg.MaxAttempts}, err
}

// record stores a confirmed vote. The ledger already holds it, so store
// refusals are logged and not surfaced.
func (s *Submitter) record(att moderation.Attestation, receipt moderation.Receipt) {
	_, err := s.store.RecordVote(moderation.Vote{Attestation: att, Receipt: receipt})

	switch {
	case err == nil:
	case errors.Is(err, moderation.ErrDuplicate), errors.Is(err, moderation.ErrTaskFinalized):
		logger.Debug("confirmed vote not recorded",
			"component", "submit",
			"task", att.TaskID,
			"operator", att.Operator.Short(),
			"reason", err,
		)
	default:
		logger.Warn("record confirmed vote failed",
			"component", "submit",
			"task", att.TaskID,
			"operator", att.Operator.Short(),
			"error", err,
		)
	}
}
