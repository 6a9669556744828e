package handlers

import (
	"time"

	"logrelay/internal/hub"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// StreamHandler upgrades subscriber connections and binds their lifetime to
// the hub's live set.
type StreamHandler struct {
	hub       *hub.Hub
	writeWait time.Duration
	logger    *zap.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(h *hub.Hub, writeWait time.Duration, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       h,
		writeWait: writeWait,
		logger:    logger,
	}
}

// RequireUpgrade rejects plain HTTP requests on the stream path.
func (h *StreamHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream runs one subscriber session: subscribe (which sends the backfill),
// then hold the connection until the transport closes. All pushes happen
// from the hub's broadcast path, never from here.
func (h *StreamHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session := hub.NewSession(conn, h.writeWait)
		sub := h.hub.Subscribe(session)
		defer h.hub.Unsubscribe(sub)

		h.logger.Debug("Subscriber connection established", zap.String("remote", conn.RemoteAddr().String()))
		session.DrainInbound()
		h.logger.Debug("Subscriber connection closed", zap.String("remote", conn.RemoteAddr().String()))
	})
}

// SetupStreamRoutes registers the subscription route with the Fiber app
func (h *StreamHandler) SetupStreamRoutes(router fiber.Router) {
	router.Use("/ws", h.RequireUpgrade)
	router.Get("/ws", h.Stream())
}
