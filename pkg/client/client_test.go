package client

import (
	"testing"
	"time"

	"logrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay_Progression(t *testing.T) {
	delay := DefaultInitialDelay
	var observed []time.Duration
	for i := 0; i < 8; i++ {
		delay = nextDelay(delay, DefaultFactor, DefaultMaxDelay)
		observed = append(observed, delay)
	}

	// Strictly increasing until the cap, then pinned at the cap
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
	assert.Equal(t, 1800*time.Millisecond, observed[0])
	assert.Equal(t, DefaultMaxDelay, observed[len(observed)-1])
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(Config{URL: "ws://localhost:3000/ws"}, nil, nil)
	assert.Equal(t, DefaultInitialDelay, s.cfg.InitialDelay)
	assert.Equal(t, DefaultMaxDelay, s.cfg.MaxDelay)
	assert.Equal(t, DefaultFactor, s.cfg.Factor)
	require.NotNil(t, s.logger)
}

func TestDispatch_InitFrame(t *testing.T) {
	var backfill []models.LogEntry
	s := New(Config{URL: "ws://x/ws"}, func(logs []models.LogEntry) { backfill = logs }, nil)

	s.dispatch([]byte(`{"type":"init","logs":[{"id":"a","ts":"2026-09-01T12:00:00Z","message":"one"},{"id":"b","ts":"2026-09-01T12:00:01Z","message":"two"}]}`))

	require.Len(t, backfill, 2)
	assert.Equal(t, "a", backfill[0].ID)
	assert.Equal(t, "two", backfill[1].Message)
}

func TestDispatch_LogFrame(t *testing.T) {
	var received []models.LogEntry
	s := New(Config{URL: "ws://x/ws"}, nil, func(e models.LogEntry) { received = append(received, e) })

	s.dispatch([]byte(`{"type":"log","log":{"id":"a","ts":"2026-09-01T12:00:00Z","level":"error","message":"boom"}}`))

	require.Len(t, received, 1)
	assert.Equal(t, "error", received[0].Level)
	assert.Equal(t, "boom", received[0].Message)
}

func TestDispatch_IgnoresMalformedAndUnknownFrames(t *testing.T) {
	calls := 0
	s := New(Config{URL: "ws://x/ws"},
		func([]models.LogEntry) { calls++ },
		func(models.LogEntry) { calls++ },
	)

	s.dispatch([]byte(`{not json`))
	s.dispatch([]byte(`{"type":"ping"}`))
	s.dispatch([]byte(`{"type":"log"}`)) // log frame without a log payload

	assert.Zero(t, calls)
}
