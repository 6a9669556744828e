// Package client implements the subscriber side of the relay's subscription
// protocol: a websocket consumer that reconnects with exponential backoff and
// treats every successful reconnect as a fresh subscription with a full
// backfill replacement.
package client

import (
	"context"
	"encoding/json"
	"time"

	"logrelay/internal/models"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"
)

// Reconnect backoff defaults: start at the initial delay, multiply by the
// factor on each failed attempt, cap at the maximum, and reset to the initial
// delay after a successful connection.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 15 * time.Second
	DefaultFactor       = 1.8

	defaultHandshakeTimeout = 10 * time.Second
)

// Config configures a Subscriber.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:3000/ws.
	URL string
	// InitialDelay, MaxDelay and Factor shape the reconnect backoff.
	// Zero values fall back to the defaults above.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	// Logger is optional; a Nop logger is used when nil.
	Logger *zap.Logger
}

// Subscriber maintains one live subscription across reconnects.
type Subscriber struct {
	cfg    Config
	onInit func([]models.LogEntry)
	onLog  func(models.LogEntry)
	logger *zap.Logger
}

// envelope covers both frame types on the subscription channel.
type envelope struct {
	Type string            `json:"type"`
	Logs []models.LogEntry `json:"logs"`
	Log  *models.LogEntry  `json:"log"`
}

// New creates a Subscriber. onInit receives the backfill snapshot after every
// (re)connect and should replace, not extend, any view the caller keeps;
// onLog receives each live entry. Either callback may be nil.
func New(cfg Config, onInit func([]models.LogEntry), onLog func(models.LogEntry)) *Subscriber {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Factor <= 1 {
		cfg.Factor = DefaultFactor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:    cfg,
		onInit: onInit,
		onLog:  onLog,
		logger: logger,
	}
}

// Run connects and consumes frames until ctx is cancelled, reconnecting on
// any transport failure. It returns ctx.Err() once cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	delay := s.cfg.InitialDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			s.logger.Warn("Failed to connect to relay, will retry",
				zap.String("url", s.cfg.URL),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = nextDelay(delay, s.cfg.Factor, s.cfg.MaxDelay)
			continue
		}

		s.logger.Info("Connected to relay", zap.String("url", s.cfg.URL))
		delay = s.cfg.InitialDelay // Successful connect resets the backoff

		err = s.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Connection to relay lost, reconnecting", zap.Error(err))
	}
}

// consume reads frames until the transport fails or ctx is cancelled.
func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

// dispatch decodes one frame. Malformed frames are ignored, per the
// subscription protocol.
func (s *Subscriber) dispatch(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.logger.Debug("Ignoring malformed frame", zap.Error(err))
		return
	}
	switch env.Type {
	case "init":
		if s.onInit != nil {
			s.onInit(env.Logs)
		}
	case "log":
		if env.Log != nil && s.onLog != nil {
			s.onLog(*env.Log)
		}
	default:
		s.logger.Debug("Ignoring frame with unknown type", zap.String("type", env.Type))
	}
}

// nextDelay advances the backoff one step.
func nextDelay(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
