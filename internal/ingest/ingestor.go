package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/retry"
	"GuardianScope/internal/storage"
)

// cursorKey stores the last contiguous ingested task id.
var cursorKey = []byte("m:cursor")

// Sink receives each new task exactly once per id.
type Sink interface {
	Upsert(ev moderation.TaskCreated) (bool, error)
}

// defaultStableAfter is how long a silent live stream must stay up before
// its loss restarts the reconnect backoff.
const defaultStableAfter = 10 * time.Second

// Config holds the ingestion parameters.
type Config struct {
	PageSize    int           // PageSize is the TaskRange limit during catch-up
	BackoffMin  time.Duration // BackoffMin is the first reconnect delay
	BackoffMax  time.Duration // BackoffMax caps the reconnect delay
	StableAfter time.Duration // StableAfter is the uptime that makes a silent stream healthy
}

// Ingestor turns ledger TaskCreated events into tasks. It resumes after
// the highest id below which every task was ingested.
type Ingestor struct {
	cfg     Config
	client  ledger.Client
	sink    Sink
	db      *storage.Storage // db persists the cursor, nil keeps it in memory
	backoff retry.Backoff

	mu      sync.Mutex
	cursor  moderation.TaskID              // cursor is the last contiguous ingested id
	pending map[moderation.TaskID]struct{} // pending holds ingested ids above a gap

	notify func(moderation.TaskCreated) // notify runs after each new task
}

// New creates an ingestor.
func New(cfg Config, client ledger.Client, sink Sink, db *storage.Storage) *Ingestor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}

	return &Ingestor{
		cfg:     cfg,
		client:  client,
		sink:    sink,
		db:      db,
		backoff: retry.Backoff{Min: cfg.BackoffMin, Max: cfg.BackoffMax, Jitter: 0.2},
		pending: make(map[moderation.TaskID]struct{}),
	}
}

// OnIngested sets the callback run after each new task.
func (i *Ingestor) OnIngested(fn func(moderation.TaskCreated)) {
	i.notify = fn
}

// Load restores the persisted cursor.
func (i *Ingestor) Load() error {
	if i.db == nil {
		return nil
	}

	data, err := i.db.Get(cursorKey)
	if err != nil {
		return fmt.Errorf("load cursor:\n%w", err)
	}

	if len(data) == 8 {
		i.mu.Lock()
		i.cursor = moderation.TaskID(binary.BigEndian.Uint64(data))
		i.mu.Unlock()
	}

	metrics.IngestCursor.Set(float64(i.Cursor()))

	return nil
}

// Cursor returns the last contiguous ingested id.
func (i *Ingestor) Cursor() moderation.TaskID {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.cursor
}

// Run ingests until ctx is done, reconnecting with backoff.
func (i *Ingestor) Run(ctx context.Context) error {
	attempt := 0

	for {
		healthy, err := i.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if healthy {
			attempt = 0
		}

		if err != nil && !errors.Is(err, moderation.ErrTransient) {
			logger.Warn("ingest session failed", "component", "ingest", "error", err)
		} else {
			logger.Debug("ledger stream lost", "component", "ingest", "error", err, "cursor", i.Cursor())
		}

		delay := i.backoff.Delay(attempt)
		attempt++
		metrics.IngestReconnects.Inc()

		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session opens the live stream first so nothing created during catch-up
// is missed, pages the backlog, then follows the stream. healthy reports
// whether the stream delivered an event or stayed up for StableAfter; a
// stream that drops right after connecting keeps the backoff growing.
func (i *Ingestor) session(ctx context.Context) (healthy bool, err error) {
	from := i.Cursor() + 1

	stream, err := i.client.StreamTaskCreated(ctx, from)
	if err != nil {
		return false, fmt.Errorf("open stream at %d:\n%w", from, err)
	}
	defer stream.Close()

	if err := i.catchUp(ctx); err != nil {
		return false, err
	}

	logger.Info("ingest live", "component", "ingest", "cursor", i.Cursor())

	liveAt := time.Now()
	delivered := false

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return delivered || time.Since(liveAt) >= i.cfg.StableAfter, err
		}
		delivered = true

		if err := i.Ingest(ev); err != nil {
			return true, err
		}
	}
}

// catchUp pages TaskRange from the cursor until the backlog is exhausted.
func (i *Ingestor) catchUp(ctx context.Context) error {
	for {
		from := i.Cursor() + 1

		page, err := i.client.TaskRange(ctx, from, i.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("task range at %d:\n%w", from, err)
		}

		for _, ev := range page {
			if err := i.Ingest(ev); err != nil {
				return err
			}
		}

		if len(page) < i.cfg.PageSize {
			return nil
		}
	}
}

// Ingest applies one event. Events at or below the cursor, or already
// pending, are absorbed as duplicates.
func (i *Ingestor) Ingest(ev moderation.TaskCreated) error {
	if ev.ID == 0 {
		return fmt.Errorf("invalid task id 0")
	}

	if i.seen(ev.ID) {
		metrics.DuplicateEvents.Inc()
		return nil
	}

	created, err := i.sink.Upsert(ev)
	if err != nil {
		return fmt.Errorf("upsert task %d:\n%w", ev.ID, err)
	}

	if err := i.advance(ev.ID); err != nil {
		return err
	}

	if !created {
		metrics.DuplicateEvents.Inc()
		return nil
	}

	metrics.TasksIngested.Inc()
	logger.Debug("task ingested", "component", "ingest", "task", ev.ID)

	if i.notify != nil {
		i.notify(ev)
	}

	return nil
}

func (i *Ingestor) seen(id moderation.TaskID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if id <= i.cursor {
		return true
	}

	_, ok := i.pending[id]

	return ok
}

// advance marks id ingested and moves the cursor over any closed gap.
func (i *Ingestor) advance(id moderation.TaskID) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if id != i.cursor+1 {
		i.pending[id] = struct{}{}
		return nil
	}

	i.cursor = id
	for {
		if _, ok := i.pending[i.cursor+1]; !ok {
			break
		}
		delete(i.pending, i.cursor+1)
		i.cursor++
	}

	metrics.IngestCursor.Set(float64(i.cursor))

	if i.db == nil {
		return nil
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i.cursor))

	if err := i.db.Set(cursorKey, buf[:]); err != nil {
		return fmt.Errorf("save cursor:\n%w", err)
	}

	return nil
}
