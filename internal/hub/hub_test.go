package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"logrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo is an in-memory LogRepository mirroring the SQLite trim and query
// semantics: retention by (stored timestamp desc, id desc), reads oldest
// first.
type fakeRepo struct {
	mu         sync.Mutex
	rows       map[string]models.LogEntry
	failUpsert error
	failTrim   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]models.LogEntry)}
}

func (r *fakeRepo) Init(ctx context.Context) error { return nil }

func (r *fakeRepo) Upsert(ctx context.Context, entry models.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert != nil {
		return r.failUpsert
	}
	r.rows[entry.ID] = entry
	return nil
}

func (r *fakeRepo) sortedDescLocked() []models.LogEntry {
	all := make([]models.LogEntry, 0, len(r.rows))
	for _, e := range r.rows {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].StoredTimestamp(), all[j].StoredTimestamp()
		if ti != tj {
			return ti > tj
		}
		return all[i].ID > all[j].ID
	})
	return all
}

func (r *fakeRepo) TrimToLimit(ctx context.Context, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTrim != nil {
		return r.failTrim
	}
	all := r.sortedDescLocked()
	for i, e := range all {
		if i >= limit {
			delete(r.rows, e.ID)
		}
	}
	return nil
}

func (r *fakeRepo) LoadRecent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sortedDescLocked()
	if len(all) > limit {
		all = all[:limit]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (r *fakeRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows), nil
}

func (r *fakeRepo) ids() []string {
	entries, _ := r.LoadRecent(context.Background(), len(r.rows))
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// fakeSink records every payload it is asked to send.
type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
	failErr  error
}

func (s *fakeSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *fakeSink) frames(t *testing.T) []frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame, 0, len(s.payloads))
	for _, p := range s.payloads {
		var f frame
		require.NoError(t, json.Unmarshal(p, &f))
		out = append(out, f)
	}
	return out
}

type frame struct {
	Type string            `json:"type"`
	Logs []models.LogEntry `json:"logs"`
	Log  models.LogEntry   `json:"log"`
}

func startedHub(t *testing.T, repo *fakeRepo, limit int) *Hub {
	t.Helper()
	h := New(repo, limit, zap.NewNop())
	require.NoError(t, h.Start(context.Background()))
	return h
}

func testEntry(id string, offset time.Duration) models.LogEntry {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return models.LogEntry{
		ID:        id,
		Timestamp: base.Add(offset),
		Level:     "info",
		Message:   "entry " + id,
	}
}

func snapshotIDs(h *Hub) []string {
	entries := h.Snapshot()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func TestStart_SeedsBufferFromStore(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.Upsert(context.Background(), testEntry("a", 0)))
	require.NoError(t, repo.Upsert(context.Background(), testEntry("b", time.Second)))

	h := startedHub(t, repo, 10)
	assert.Equal(t, []string{"a", "b"}, snapshotIDs(h))
}

func TestStart_FailsOnSecondCall(t *testing.T) {
	h := startedHub(t, newFakeRepo(), 10)
	require.ErrorIs(t, h.Start(context.Background()), ErrAlreadyStarted)
}

func TestIngest_RetentionScenario(t *testing.T) {
	// Ingest A, B, C with N=2: store and buffer hold exactly {B, C}; a new
	// subscriber gets backfill [B, C]; ingesting D yields buffer [C, D] and
	// one log frame for D.
	repo := newFakeRepo()
	h := startedHub(t, repo, 2)
	ctx := context.Background()

	require.NoError(t, h.Ingest(ctx, testEntry("a", 0)))
	require.NoError(t, h.Ingest(ctx, testEntry("b", time.Second)))
	require.NoError(t, h.Ingest(ctx, testEntry("c", 2*time.Second)))

	assert.Equal(t, []string{"b", "c"}, snapshotIDs(h))
	assert.Equal(t, []string{"b", "c"}, repo.ids(), "store and buffer converge")

	sink := &fakeSink{}
	sub := h.Subscribe(sink)
	defer h.Unsubscribe(sub)

	frames := sink.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "init", frames[0].Type)
	require.Len(t, frames[0].Logs, 2)
	assert.Equal(t, "b", frames[0].Logs[0].ID)
	assert.Equal(t, "c", frames[0].Logs[1].ID)

	require.NoError(t, h.Ingest(ctx, testEntry("d", 3*time.Second)))

	assert.Equal(t, []string{"c", "d"}, snapshotIDs(h))
	frames = sink.frames(t)
	require.Len(t, frames, 2, "exactly one log frame after the backfill")
	assert.Equal(t, "log", frames[1].Type)
	assert.Equal(t, "d", frames[1].Log.ID)
}

func TestIngest_PersistenceFailureGatesVisibility(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)
	ctx := context.Background()

	sink := &fakeSink{}
	sub := h.Subscribe(sink)
	defer h.Unsubscribe(sub)

	repo.failUpsert = errors.New("disk full")
	err := h.Ingest(ctx, testEntry("a", 0))
	require.ErrorIs(t, err, ErrPersistence)

	assert.Empty(t, snapshotIDs(h), "failed entry must not reach the buffer")
	assert.Len(t, sink.frames(t), 1, "only the init frame, no broadcast")
}

func TestIngest_TrimFailureIsPersistenceError(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)

	repo.failTrim = errors.New("locked")
	err := h.Ingest(context.Background(), testEntry("a", 0))
	require.ErrorIs(t, err, ErrPersistence)
}

func TestIngest_SameIdReplacesInPlace(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)
	ctx := context.Background()

	require.NoError(t, h.Ingest(ctx, testEntry("a", 0)))
	require.NoError(t, h.Ingest(ctx, testEntry("b", time.Second)))

	replacement := testEntry("a", 2*time.Second)
	replacement.Message = "updated"
	require.NoError(t, h.Ingest(ctx, replacement))

	entries := h.Snapshot()
	require.Len(t, entries, 2, "re-delivery must not grow the buffer")
	assert.Equal(t, "a", entries[0].ID, "replaced entry keeps its position")
	assert.Equal(t, "updated", entries[0].Message)
	assert.Equal(t, "b", entries[1].ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngest_DeadSubscriberIsRemoved(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)
	ctx := context.Background()

	dead := &fakeSink{}
	live := &fakeSink{}
	h.Subscribe(dead)
	h.Subscribe(live)
	require.Equal(t, 2, h.SubscriberCount())

	dead.failErr = errors.New("broken pipe")
	require.NoError(t, h.Ingest(ctx, testEntry("a", 0)), "broadcast failure never fails the ingest")

	assert.Equal(t, 1, h.SubscriberCount(), "failed subscriber is dropped")

	frames := live.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[1].Log.ID, "healthy subscriber still receives the entry")

	// The dead subscriber is never retried
	require.NoError(t, h.Ingest(ctx, testEntry("b", time.Second)))
	assert.Len(t, dead.frames(t), 1, "nothing past the init frame")
}

func TestSubscribe_FailedInitSendIsNotRegistered(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)

	sink := &fakeSink{failErr: errors.New("gone")}
	sub := h.Subscribe(sink)
	assert.Equal(t, 0, h.SubscriberCount())

	// The handle is still safe to unsubscribe
	h.Unsubscribe(sub)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 10)

	sub := h.Subscribe(&fakeSink{})
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestIngest_BufferAndStoreConverge(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 3)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		e := testEntry(fmt.Sprintf("id-%d", i), time.Duration(i)*time.Second)
		require.NoError(t, h.Ingest(ctx, e))
		assert.Equal(t, repo.ids(), snapshotIDs(h), "after ingest %d", i)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, count, 3, "store never exceeds the retention bound")
	}
}

func TestIngest_SerializedUnderConcurrency(t *testing.T) {
	repo := newFakeRepo()
	h := startedHub(t, repo, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := testEntry(fmt.Sprintf("id-%02d", i), time.Duration(i)*time.Millisecond)
			assert.NoError(t, h.Ingest(context.Background(), e))
		}(i)
	}
	wg.Wait()

	// Arrival order is scheduling-dependent, but the buffer and the store
	// must hold the same set of entries.
	assert.Len(t, h.Snapshot(), 20)
	assert.ElementsMatch(t, repo.ids(), snapshotIDs(h))
}

func TestOperationsBlockUntilReady(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.Upsert(context.Background(), testEntry("a", 0)))
	h := New(repo, 10, zap.NewNop())

	got := make(chan []string, 1)
	go func() {
		got <- snapshotIDs(h) // blocks until Start closes the barrier
	}()

	select {
	case <-got:
		t.Fatal("snapshot returned before the hub was ready")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, h.Start(context.Background()))
	select {
	case ids := <-got:
		assert.Equal(t, []string{"a"}, ids, "no partial buffer is ever observed")
	case <-time.After(time.Second):
		t.Fatal("snapshot did not unblock after Start")
	}
}
