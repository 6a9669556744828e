package handlers

import (
	"errors"

	"logrelay/internal/hub"
	mw "logrelay/internal/middleware"
	"logrelay/internal/normalize"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LogHandler is the ingress gateway: it accepts submissions, runs the
// normalizer, forwards the entry to the hub, and translates hub responses
// into HTTP replies.
type LogHandler struct {
	hub *hub.Hub
}

// NewLogHandler creates a new LogHandler
func NewLogHandler(h *hub.Hub) *LogHandler {
	return &LogHandler{hub: h}
}

// Submit handles POST /logs requests. JSON bodies carry structured
// submissions; any other body is treated as a plain-text message.
func (h *LogHandler) Submit(c *fiber.Ctx) error {
	fileLogger := mw.GetRequestFileLogger(c)

	entry, err := normalize.Normalize(normalize.RawSubmission{
		Body:        c.Body(),
		ContentType: c.Get(fiber.HeaderContentType),
		LevelHint:   c.Get(mw.LevelHintHeader),
		SourceHint:  c.Get(mw.SourceHintHeader),
	})
	if err != nil {
		if errors.Is(err, normalize.ErrInvalidSubmission) {
			fileLogger.Warn("Rejected log submission", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"ok":    false,
				"error": err.Error(),
			})
		}
		fileLogger.Error("Unexpected normalization failure", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": "failed to process submission",
		})
	}

	if err := h.hub.Ingest(c.Context(), entry); err != nil {
		// The hub performs no retry; whether to resubmit is the caller's call
		fileLogger.Error("Failed to publish log entry", zap.String("id", entry.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": "failed to publish log",
		})
	}

	fileLogger.Debug("Accepted log entry", zap.String("id", entry.ID), zap.String("level", entry.Level))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"ok": true,
		"id": entry.ID,
	})
}

// Recent handles GET /logs requests: the current retained window as a JSON
// array, oldest first — the same view a new subscriber receives as backfill.
func (h *LogHandler) Recent(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.hub.Snapshot())
}

// SetupLogRoutes registers ingestion routes with the Fiber app
func (h *LogHandler) SetupLogRoutes(router fiber.Router) {
	router.Post("/logs", h.Submit)
	router.Get("/logs", h.Recent)
}
