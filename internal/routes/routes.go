package routes

import (
	"database/sql"
	"os"
	"time"

	"logrelay/internal/bootstrap"
	"logrelay/internal/config"
	"logrelay/internal/logging"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SetupRoutes configures the application routes.
func SetupRoutes(
	app *fiber.App,
	cfg *config.Config,
	logger *zap.Logger,
	components *bootstrap.AppComponents,
	sqliteDB *sql.DB, // Pass DB handle for health check
) {
	logger.Info("Setting up application routes...")

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		lg := logging.GetFileLogger()
		healthStatus := fiber.Map{"status": "healthy", "timestamp": time.Now().UTC()}
		dbStatus := fiber.Map{}

		if sqliteDB != nil {
			if err := sqliteDB.PingContext(c.Context()); err == nil {
				dbStatus["sqlite"] = "connected"
			} else {
				dbStatus["sqlite"] = "disconnected"
				lg.Warn("Health check: SQLite ping failed", zap.Error(err))
			}
		} else {
			dbStatus["sqlite"] = "uninitialized"
		}
		healthStatus["dependencies"] = dbStatus
		healthStatus["subscribers"] = components.Hub.SubscriberCount()
		return c.Status(fiber.StatusOK).JSON(healthStatus)
	})

	// Ingestion and subscription routes live at the root, matching the
	// ingress contract (/logs, /ws)
	components.LogHandler.SetupLogRoutes(app)
	components.StreamHandler.SetupStreamRoutes(app)

	// Static viewer bundle with 404 fallback for everything unmatched
	if cfg.AssetsDir != "" {
		if _, err := os.Stat(cfg.AssetsDir); err == nil {
			app.Static("/", cfg.AssetsDir, fiber.Static{
				Compress:  true,
				ByteRange: true,
			})
			logger.Info("Serving static viewer assets", zap.String("directory", cfg.AssetsDir))
		} else {
			logger.Warn("Assets directory not found, skipping static route setup.", zap.String("directory", cfg.AssetsDir))
		}
	}
}
