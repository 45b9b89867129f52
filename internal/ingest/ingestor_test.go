package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GuardianScope/internal/ledger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/storage"
)

// recordingSink counts upserts per task id.
type recordingSink struct {
	mu    sync.Mutex
	calls map[moderation.TaskID]int
}

func newSink() *recordingSink {
	return &recordingSink{calls: make(map[moderation.TaskID]int)}
}

func (s *recordingSink) Upsert(ev moderation.TaskCreated) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[ev.ID]++

	return s.calls[ev.ID] == 1, nil
}

func (s *recordingSink) ids() []moderation.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]moderation.TaskID, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func (s *recordingSink) maxCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		n = max(n, c)
	}

	return n
}

func createTasks(t *testing.T, m *ledger.Memory, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := m.CreateTask(context.Background(), []byte(fmt.Sprintf("content %d", i)))
		require.NoError(t, err)
	}
}

func runIngestor(t *testing.T, ing *Ingestor) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ing.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testConfig() Config {
	return Config{PageSize: 10, BackoffMin: 20 * time.Millisecond, BackoffMax: 100 * time.Millisecond}
}

func waitCursor(t *testing.T, ing *Ingestor, want moderation.TaskID) {
	t.Helper()

	require.Eventually(t, func() bool { return ing.Cursor() == want }, 5*time.Second, 10*time.Millisecond,
		"cursor stuck at %d, want %d", ing.Cursor(), want)
}

func taskIDs(from, to int) []moderation.TaskID {
	var ids []moderation.TaskID
	for i := from; i <= to; i++ {
		ids = append(ids, moderation.TaskID(i))
	}
	return ids
}

func TestCatchUpPagesBacklog(t *testing.T) {
	mem := ledger.NewMemory()
	createTasks(t, mem, 25)

	sink := newSink()
	ing := New(testConfig(), mem, sink, nil)
	runIngestor(t, ing)

	waitCursor(t, ing, 25)
	assert.Equal(t, taskIDs(1, 25), sink.ids())

	createTasks(t, mem, 3)
	waitCursor(t, ing, 28)
	assert.Equal(t, 1, sink.maxCalls())
}

func TestResumeAfterDisconnectWithRedelivery(t *testing.T) {
	mem := ledger.NewMemory()
	createTasks(t, mem, 5)

	sink := newSink()
	ing := New(testConfig(), mem, sink, nil)
	runIngestor(t, ing)

	waitCursor(t, ing, 5)

	// The next stream replays 3..7 after the connection drops at 5.
	mem.SetReplayOverlap(3)
	mem.Disconnect()
	createTasks(t, mem, 2)

	waitCursor(t, ing, 7)
	assert.Equal(t, taskIDs(1, 7), sink.ids())
	assert.Equal(t, 1, sink.maxCalls(), "no task may be upserted twice")
}

func TestOutOfOrderEventsHeldPending(t *testing.T) {
	sink := newSink()
	ing := New(testConfig(), ledger.NewMemory(), sink, nil)

	ev := func(id moderation.TaskID) moderation.TaskCreated {
		return moderation.TaskCreated{ID: id, Content: []byte("x")}
	}

	require.NoError(t, ing.Ingest(ev(1)))
	require.NoError(t, ing.Ingest(ev(3)))
	assert.Equal(t, moderation.TaskID(1), ing.Cursor())

	require.NoError(t, ing.Ingest(ev(3)))
	require.NoError(t, ing.Ingest(ev(2)))
	assert.Equal(t, moderation.TaskID(3), ing.Cursor())
	assert.Equal(t, 1, sink.maxCalls())

	assert.Error(t, ing.Ingest(ev(0)))
}

func TestNotifyOncePerNewTask(t *testing.T) {
	ing := New(testConfig(), ledger.NewMemory(), newSink(), nil)

	var notified []moderation.TaskID
	ing.OnIngested(func(ev moderation.TaskCreated) { notified = append(notified, ev.ID) })

	for _, id := range []moderation.TaskID{1, 2, 2, 1, 3} {
		require.NoError(t, ing.Ingest(moderation.TaskCreated{ID: id}))
	}

	assert.Equal(t, taskIDs(1, 3), notified)
}

func TestCursorSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	db, err := storage.New(path)
	require.NoError(t, err)

	ing := New(testConfig(), ledger.NewMemory(), newSink(), db)
	require.NoError(t, ing.Load())
	for id := moderation.TaskID(1); id <= 4; id++ {
		require.NoError(t, ing.Ingest(moderation.TaskCreated{ID: id}))
	}
	require.NoError(t, db.Close())

	db, err = storage.New(path)
	require.NoError(t, err)
	defer db.Close()

	restarted := New(testConfig(), ledger.NewMemory(), newSink(), db)
	require.NoError(t, restarted.Load())
	assert.Equal(t, moderation.TaskID(4), restarted.Cursor())
}

func TestRecoversFromOutage(t *testing.T) {
	mem := ledger.NewMemory()
	createTasks(t, mem, 3)
	mem.SetUnavailable(true)

	sink := newSink()
	ing := New(testConfig(), mem, sink, nil)
	runIngestor(t, ing)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, moderation.TaskID(0), ing.Cursor())

	mem.SetUnavailable(false)
	waitCursor(t, ing, 3)
}

// droppingClient serves streams that are lost as soon as they open.
type droppingClient struct {
	*ledger.Memory

	mu    sync.Mutex
	opens []time.Time
}

func (c *droppingClient) StreamTaskCreated(ctx context.Context, from moderation.TaskID) (ledger.TaskStream, error) {
	c.mu.Lock()
	c.opens = append(c.opens, time.Now())
	c.mu.Unlock()

	return droppedStream{}, nil
}

func (c *droppingClient) openTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Time(nil), c.opens...)
}

type droppedStream struct{}

func (droppedStream) Next(context.Context) (moderation.TaskCreated, error) {
	return moderation.TaskCreated{}, ledger.ErrStreamClosed
}

func (droppedStream) Close() error { return nil }

func TestFlappingStreamKeepsBackingOff(t *testing.T) {
	client := &droppingClient{Memory: ledger.NewMemory()}
	cfg := Config{PageSize: 10, BackoffMin: 10 * time.Millisecond, BackoffMax: time.Second}

	ing := New(cfg, client, newSink(), nil)
	runIngestor(t, ing)

	require.Eventually(t, func() bool { return len(client.openTimes()) >= 5 }, 5*time.Second, 5*time.Millisecond)

	// Reconnects wait 10, 20, 40 then 80ms at least, never back at the minimum.
	opens := client.openTimes()
	assert.GreaterOrEqual(t, opens[4].Sub(opens[3]), 80*time.Millisecond)
}
