package logging

import (
	"context"
	"errors"
	"time"

	"logrelay/internal/config"
	"logrelay/internal/repositories"

	"go.uber.org/zap"
)

// LogProcessor periodically reconciles the durable store with the configured
// retention bound. The hub already trims after every ingest; this sweep
// covers the window between an operator lowering HISTORY_LIMIT and the next
// ingest, and reports the persisted row count while it is at it.
type LogProcessor struct {
	cfg       *config.Config
	logRepo   repositories.LogRepository
	logger    *zap.Logger
	ticker    *time.Ticker
	stopChan  chan struct{}
	isRunning bool
}

// NewLogProcessor creates a new LogProcessor instance
func NewLogProcessor(cfg *config.Config, logRepo repositories.LogRepository, logger *zap.Logger) *LogProcessor {
	return &LogProcessor{
		cfg:      cfg,
		logRepo:  logRepo,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the maintenance loop in a separate goroutine
func (p *LogProcessor) Start() {
	if p.isRunning {
		p.logger.Warn("Log processor already running")
		return
	}
	p.ticker = time.NewTicker(p.cfg.TrimInterval)
	p.isRunning = true
	go p.run()
	p.logger.Info("Store maintenance processor started", zap.Duration("interval", p.cfg.TrimInterval))
}

// Stop signals the maintenance loop to terminate gracefully
func (p *LogProcessor) Stop() {
	if !p.isRunning {
		p.logger.Warn("Log processor not running")
		return
	}
	p.logger.Info("Stopping store maintenance processor...")
	select {
	case <-p.stopChan:
		// Already closed
	default:
		close(p.stopChan)
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.isRunning = false
	p.logger.Info("Store maintenance processor stopped.")
}

// run is the main loop that periodically sweeps the store
func (p *LogProcessor) run() {
	// One sweep right away so a lowered limit takes effect at startup, not
	// only after the first tick.
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	p.sweep(startupCtx)
	cancel()

	for {
		select {
		case <-p.ticker.C:
			// Check if stopped before processing
			select {
			case <-p.stopChan:
				p.logger.Info("Stop signal received before maintenance tick, exiting loop.")
				return
			default:
				// Continue processing
			}
			tickCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			p.sweep(tickCtx)
			cancel()
		case <-p.stopChan:
			p.logger.Info("Received stop signal, exiting maintenance loop.")
			return
		}
	}
}

// sweep re-applies the retention bound and reports the resulting row count.
func (p *LogProcessor) sweep(ctx context.Context) {
	p.logger.Debug("Running store maintenance sweep...")

	if err := p.logRepo.TrimToLimit(ctx, p.cfg.HistoryLimit); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Info("Context cancelled/timed out during maintenance trim.", zap.Error(err))
		} else {
			p.logger.Error("Failed to trim store during maintenance sweep", zap.Error(err))
		}
		return
	}

	count, err := p.logRepo.Count(ctx)
	if err != nil {
		p.logger.Warn("Failed to count persisted entries after sweep", zap.Error(err))
		return
	}
	p.logger.Debug("Store maintenance sweep complete",
		zap.Int("persisted_entries", count),
		zap.Int("history_limit", p.cfg.HistoryLimit),
	)
}
