package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"logrelay/internal/models"
	"logrelay/internal/repositories"

	"go.uber.org/zap"
)

// ErrPersistence is returned by Ingest when the durable write or trim fails.
// The entry is not appended to the tail buffer and not broadcast in that
// case: persistence success gates visibility.
var ErrPersistence = errors.New("log persistence failed")

// ErrAlreadyStarted is returned when Start is called on a running hub.
var ErrAlreadyStarted = errors.New("hub already started")

// Sink is the outbound half of a subscriber connection. Send must deliver
// one complete message or fail; the hub removes the subscriber on failure.
type Sink interface {
	Send(payload []byte) error
}

// Subscriber is a handle for one registered connection. It holds no entry
// data of its own.
type Subscriber struct {
	sink Sink
}

// Frame shapes on the subscription channel. A subscriber receives exactly one
// init frame on attach and one log frame per subsequent ingest.
type initFrame struct {
	Type string            `json:"type"`
	Logs []models.LogEntry `json:"logs"`
}

type logFrame struct {
	Type string          `json:"type"`
	Log  models.LogEntry `json:"log"`
}

// Hub is the single authoritative log relay component: it owns the in-memory
// tail buffer, the live subscriber set, and the coordination between
// ingestion, persistence, and broadcast. One Hub exists per deployment.
//
// All operations are serialized by a single mutex, which is what makes the
// ordering guarantee possible: every subscriber observes broadcasts in the
// same relative order, and that order matches persisted order.
type Hub struct {
	repo   repositories.LogRepository
	limit  int
	logger *zap.Logger

	mu      sync.Mutex
	buffer  []models.LogEntry
	subs    map[*Subscriber]struct{}
	started bool
	ready   chan struct{} // closed once Start has seeded the buffer
}

// New creates a Hub. The hub is not usable until Start succeeds; operations
// invoked earlier block on the readiness barrier.
func New(repo repositories.LogRepository, limit int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		repo:   repo,
		limit:  limit,
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
		ready:  make(chan struct{}),
	}
}

// Start transitions the hub to ready: it ensures the store schema exists and
// seeds the tail buffer with the persisted window. A failure here is fatal to
// this hub instance; there is no degraded-ready state, the caller must
// recreate the hub to retry.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}

	if err := h.repo.Init(ctx); err != nil {
		return fmt.Errorf("hub start: store init: %w", err)
	}
	seeded, err := h.repo.LoadRecent(ctx, h.limit)
	if err != nil {
		return fmt.Errorf("hub start: load recent: %w", err)
	}
	h.buffer = seeded
	h.started = true
	close(h.ready)

	h.logger.Info("Log hub ready",
		zap.Int("seeded_entries", len(seeded)),
		zap.Int("history_limit", h.limit),
	)
	return nil
}

// Limit returns the configured retention bound N.
func (h *Hub) Limit() int {
	return h.limit
}

// Subscribe registers a connection in the live set and immediately sends it
// the current tail buffer as a single init frame, oldest first. It always
// returns a usable handle once the hub is ready; a sink whose init send fails
// is simply never added to the live set.
func (h *Hub) Subscribe(sink Sink) *Subscriber {
	<-h.ready

	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{sink: sink}

	payload, err := json.Marshal(initFrame{Type: "init", Logs: h.snapshotLocked()})
	if err != nil {
		// Entries round-trip through JSON on ingest, this should not happen
		h.logger.Error("Failed to marshal init frame", zap.Error(err))
		return sub
	}
	if err := sink.Send(payload); err != nil {
		h.logger.Warn("Subscriber failed during init send, not registering", zap.Error(err))
		return sub
	}

	h.subs[sub] = struct{}{}
	h.logger.Debug("Subscriber attached",
		zap.Int("backfill_entries", len(h.buffer)),
		zap.Int("live_subscribers", len(h.subs)),
	)
	return sub
}

// Unsubscribe removes the connection from the live set. Idempotent; safe to
// call after the connection already failed or was removed by a broadcast.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	<-h.ready

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		h.logger.Debug("Subscriber detached", zap.Int("live_subscribers", len(h.subs)))
	}
}

// Ingest persists the entry, folds it into the tail buffer, keeps the store
// trimmed to the retention bound, and broadcasts it to every live subscriber.
// The sequencing persist -> append -> trim -> broadcast is load-bearing: a
// subscriber never sees an entry the store does not have, and the buffer and
// store converge on the same most-recent-N window after every call.
func (h *Hub) Ingest(ctx context.Context, entry models.LogEntry) error {
	<-h.ready

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	// Re-delivery of an id replaces the existing entry in place; everything
	// else appends at the tail.
	replaced := false
	for i := range h.buffer {
		if h.buffer[i].ID == entry.ID {
			h.buffer[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		h.buffer = append(h.buffer, entry)
	}
	if excess := len(h.buffer) - h.limit; excess > 0 {
		// Buffer is kept ascending by arrival, so the front holds the oldest
		h.buffer = append(h.buffer[:0], h.buffer[excess:]...)
	}

	if err := h.repo.TrimToLimit(ctx, h.limit); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	h.broadcastLocked(entry)
	return nil
}

// broadcastLocked fans the entry out to every live subscriber, one frame per
// subscriber, no batching. A subscriber whose send fails is removed from the
// set and never retried; broadcast failures never surface to the ingest
// caller.
func (h *Hub) broadcastLocked(entry models.LogEntry) {
	if len(h.subs) == 0 {
		return
	}
	payload, err := json.Marshal(logFrame{Type: "log", Log: entry})
	if err != nil {
		h.logger.Error("Failed to marshal log frame", zap.String("id", entry.ID), zap.Error(err))
		return
	}
	for sub := range h.subs {
		if err := sub.sink.Send(payload); err != nil {
			delete(h.subs, sub)
			h.logger.Debug("Dropping subscriber after failed send",
				zap.Error(err),
				zap.Int("live_subscribers", len(h.subs)),
			)
		}
	}
}

// Snapshot returns a copy of the current tail buffer, oldest first.
func (h *Hub) Snapshot() []models.LogEntry {
	<-h.ready

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []models.LogEntry {
	out := make([]models.LogEntry, len(h.buffer))
	copy(out, h.buffer)
	return out
}

// SubscriberCount reports the size of the live set.
func (h *Hub) SubscriberCount() int {
	<-h.ready

	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
