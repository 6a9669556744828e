package bootstrap

import (
	"context"
	"database/sql"
	"os"

	"logrelay/internal/config"
	"logrelay/internal/handlers"
	"logrelay/internal/hub"
	"logrelay/internal/logging"
	"logrelay/internal/repositories"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppComponents holds the initialized components like handlers, processors, and repositories.
type AppComponents struct {
	Hub           *hub.Hub
	LogHandler    *handlers.LogHandler
	StreamHandler *handlers.StreamHandler
	LogProcessor  *logging.LogProcessor
	LogRepo       repositories.LogRepository
}

// InitializeAppComponents creates and wires up the application's core components:
// the log repository, the hub, the relay logger, handlers, and the maintenance
// processor.
func InitializeAppComponents(
	ctx context.Context,
	cfg *config.Config,
	fileLogger *zap.Logger,
	sqliteDB *sql.DB,
) (*AppComponents, *zap.Logger, error) {

	fileLogger.Info("Initializing application components: Repository, Hub, Relay Logger, Handlers, Processors...")

	// --- 1. Initialize Repository ---
	logRepo := repositories.NewLogRepository(sqliteDB, fileLogger)
	fileLogger.Info("Log repository initialized.")

	// --- 2. Initialize and Start the Hub ---
	// The hub and the repository log through the file logger only. The relay
	// logger built below must never be handed to them (its core ingests
	// through the hub and would deadlock under the hub mutex).
	logHub := hub.New(logRepo, cfg.HistoryLimit, fileLogger)
	if err := logHub.Start(ctx); err != nil {
		// Initialization failure is fatal to this hub instance
		fileLogger.Error("Failed to start log hub", zap.Error(err))
		return nil, nil, err
	}

	// --- 3. Setup Relay Logger (file/console cores + relay core) ---
	relayLogger := zap.NewNop()
	if cfg.RelayLogEnabled {
		var relayLevel zapcore.Level
		if err := relayLevel.UnmarshalText([]byte(cfg.RelayLogLevel)); err != nil {
			fileLogger.Warn("Invalid relay log level, defaulting to warn", zap.String("configured", cfg.RelayLogLevel))
			relayLevel = zapcore.WarnLevel
		}
		consoleEncoderCfg, _ := logging.CreateFileConsoleEncoderConfigs()
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), zapcore.Lock(os.Stdout), relayLevel)
		relayCore := logging.NewRelayCore(relayLevel, logHub)
		relayLogger = zap.New(zapcore.NewTee(consoleCore, relayCore), zap.AddCaller(), zap.AddCallerSkip(1))
		fileLogger.Info("Relay logger initialized: service logs will appear in the live stream.",
			zap.String("effectiveLevel", relayLevel.String()),
		)
	} else {
		fileLogger.Info("Relay logger is disabled by configuration.")
	}

	// --- 4. Initialize Handlers ---
	logHandler := handlers.NewLogHandler(logHub)
	streamHandler := handlers.NewStreamHandler(logHub, cfg.WSWriteWait, fileLogger)
	fileLogger.Info("Handlers initialized.")

	// --- 5. Initialize Processors ---
	logProcessor := logging.NewLogProcessor(cfg, logRepo, fileLogger)
	fileLogger.Info("Processors initialized.")

	fileLogger.Info("Application components initialization complete.")

	components := &AppComponents{
		Hub:           logHub,
		LogHandler:    logHandler,
		StreamHandler: streamHandler,
		LogProcessor:  logProcessor,
		LogRepo:       logRepo,
	}

	return components, relayLogger, nil
}
