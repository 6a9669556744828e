package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"logrelay/internal/bootstrap"
	"logrelay/internal/config"
	"logrelay/internal/database"
	"logrelay/internal/logging"
	"logrelay/internal/middleware"
	"logrelay/internal/routes"
	"logrelay/internal/utils"

	"github.com/DeRuina/timberjack"
	"github.com/gofiber/contrib/fiberzap/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run initializes and starts the application
func Run() {
	var fileLogger *zap.Logger
	var relayLogger *zap.Logger
	var sqliteDB *sql.DB
	var cfg *config.Config
	var err error
	var appFiber *fiber.App
	var components *bootstrap.AppComponents
	var fileSyncer zapcore.WriteSyncer

	// <<<< Record start time for App initialization
	initAppStartTime := time.Now()

	// --- 1. Load Configuration ---
	tempConfigLogger, _ := zap.NewProduction(zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	defer tempConfigLogger.Sync()

	cfg, err = config.LoadConfig(tempConfigLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- 2. Create SHARED File Writer/Syncer for timberjack ---
	logDir := filepath.Dir(cfg.LogFilePath)
	if logDir != "." && logDir != "/" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: Failed to ensure log directory %s exists: %v\n", logDir, err)
			os.Exit(1)
		}
	}
	timberJackLogger := &timberjack.Logger{
		Filename:         cfg.LogFilePath,
		MaxSize:          cfg.LogMaxSize,
		MaxBackups:       cfg.LogMaxBackups,
		MaxAge:           cfg.LogMaxAge,
		Compress:         cfg.LogCompress,
		LocalTime:        true,
		RotationInterval: time.Duration(cfg.LogRotateInterval) * time.Hour,
	}
	fileSyncer = zapcore.AddSync(timberJackLogger)

	// --- 3. Initialize File/Console Logger ---
	fileLogger, err = logging.InitializeFileLogger(cfg, fileSyncer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize application logger: %v\n", err)
		os.Exit(1)
	}

	// --- 4. Trace Config Details ---
	utils.TraceConfigDetails(fileLogger, cfg)

	// --- 5. Initialize SQLite Database ---
	sqliteDB, err = database.InitSQLite(cfg, fileLogger)
	if err != nil {
		fileLogger.Fatal("Failed to initialize SQLite database", zap.Error(err))
	}

	// --- 6. Initialize Application Components (repository, hub, handlers) ---
	// Hub start failure is fatal: there is no degraded-ready state, the
	// process restarts and retries from scratch.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	components, relayLogger, err = bootstrap.InitializeAppComponents(startCtx, cfg, fileLogger, sqliteDB)
	cancelStart()
	if err != nil {
		fileLogger.Fatal("Failed to initialize application components", zap.Error(err))
	}

	// --- 7. Set Global Loggers ---
	logging.SetGlobalLoggers(fileLogger, relayLogger)
	fileLogger.Info("Global application loggers (file/console and relay) have been set.")

	// --- 8. Initialize Fiber App ---
	fileLogger.Info("Initializing Fiber application...")
	appFiber = fiber.New(fiber.Config{
		AppName: "logrelay",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			lg := middleware.GetRequestFileLogger(c)
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) && e != nil {
				code = e.Code
			}
			fields := []zap.Field{
				zap.Int("status", code),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("ip", c.IP()),
				zap.Error(err),
			}
			if reqIDStr, ok := c.Locals(middleware.RequestIDKey).(string); ok && reqIDStr != "" {
				fields = append(fields, zap.String("request_id", reqIDStr))
			}
			if code == fiber.StatusNotFound {
				lg.Warn("Resource not found", fields...)
			} else {
				lg.Error("Generic ErrorHandler", fields...)
			}
			resp := fiber.Map{"error": "An unexpected error occurred"}
			if cfg != nil && cfg.AppEnv != "production" {
				if err != nil {
					resp["detail"] = err.Error()
				} else {
					resp["detail"] = "Error object was nil"
				}
			}
			return c.Status(code).JSON(resp)
		},
	})

	// --- 9. Register Middleware ---
	appFiber.Use(recover.New(recover.Config{
		EnableStackTrace: strings.ToLower(cfg.LogLevel) == "debug",
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			logger := middleware.GetRequestFileLogger(c)
			if logger == nil {
				logger = logging.GetFileLogger()
			}
			logger.Error("Panic recovered", zap.Any("panic_value", e))
		},
	}))
	fileLogger.Info("Configuring CORS", zap.String("origins", cfg.CORSAllowOrigins), zap.String("methods", cfg.CORSAllowMethods), zap.String("headers", cfg.CORSAllowHeaders))
	appFiber.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: cfg.CORSAllowMethods,
		AllowHeaders: cfg.CORSAllowHeaders,
	}))
	appFiber.Use(middleware.RequestLoggers(fileLogger, relayLogger))
	if strings.ToLower(cfg.LogLevel) == "debug" {
		appFiber.Use(middleware.RequestDebugLogger())
	}
	appFiber.Use(fiberzap.New(fiberzap.Config{
		Logger: fileLogger,
		Fields: []string{"status", "method", "url", "ip", "latency", "error"},
		FieldsFunc: func(c *fiber.Ctx) []zap.Field {
			fields := []zap.Field{zap.String("log_type", "access")}
			reqID := ""
			if idVal := c.Locals(middleware.RequestIDKey); idVal != nil {
				if idStr, ok := idVal.(string); ok {
					reqID = idStr
				}
			}
			if reqID == "" {
				reqID = c.Get(middleware.RequestIDHeader)
			}
			if reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
			return fields
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/ws"
		},
	}))

	// --- 10. Setup Application Routes ---
	routes.SetupRoutes(appFiber, cfg, fileLogger, components, sqliteDB)

	// --- 11. Start Maintenance Processor ---
	if components.LogProcessor != nil {
		components.LogProcessor.Start()
	}

	// --- 12. Start Server & Graceful Shutdown ---
	serverCtx, cancelServerCtx := context.WithCancel(context.Background())
	defer cancelServerCtx()
	serverStopped := make(chan struct{})

	// <<<< Calculate initialization duration >>>>
	initAppDurationMs := time.Since(initAppStartTime).Milliseconds()

	go func() {
		defer close(serverStopped)
		listenAddr := ":" + cfg.Port
		fileLogger.Info(fmt.Sprintf("Completed initialization application in %d ms.", initAppDurationMs))
		fileLogger.Info("Starting Fiber server...",
			zap.String("address", listenAddr),
			zap.Int("pid", os.Getpid()),
			zap.String("app_env", cfg.AppEnv),
		)

		if err := appFiber.Listen(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fileLogger.Error("Server listener failed", zap.String("address", listenAddr), zap.Error(err))
			cancelServerCtx()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case s := <-sig:
		fileLogger.Info("Shutdown signal received.", zap.String("signal", s.String()))
	case <-serverCtx.Done():
		fileLogger.Info("Server context cancelled, initiating shutdown.")
	}

	fileLogger.Info("Initiating graceful shutdown...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if components.LogProcessor != nil {
		components.LogProcessor.Stop()
	}

	if err := appFiber.ShutdownWithContext(shutdownCtx); err != nil {
		fileLogger.Error("Fiber server shutdown failed", zap.Error(err))
	} else {
		fileLogger.Info("Fiber server gracefully stopped.")
	}
	<-serverStopped
	fileLogger.Info("HTTP listener goroutine stopped.")

	fileLogger.Info("Syncing file/console logger before shutdown...")
	if errSync := fileLogger.Sync(); errSync != nil {
		errMsg := errSync.Error()
		if strings.Contains(errMsg, "handle is invalid") || strings.Contains(errMsg, "sync /dev/stdout") {
			// Often expected when stdout isn't available at exit
			fileLogger.Debug("Logger sync warning for stdout (handle likely invalid during shutdown).", zap.Error(errSync))
		} else {
			fileLogger.Warn("Error syncing file/console logger.", zap.Error(errSync))
			fmt.Fprintf(os.Stderr, "[WARN] Error syncing file/console logger: %v\n", errSync)
		}
	}

	if sqliteDB != nil {
		if errClose := sqliteDB.Close(); errClose != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] Error closing SQLite database: %v\n", errClose)
		} else {
			fmt.Println("[INFO] SQLite database connection closed.")
		}
	}

	fmt.Println("[INFO] Application shutdown complete.")
}
