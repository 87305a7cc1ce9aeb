package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/service"
)

const streamPingInterval = 30 * time.Second

// StreamHandler upgrades instructor connections to a websocket and relays
// integrity events for the requested observer channel.
type StreamHandler struct {
	bus    service.EventBus
	logger zerolog.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(bus service.EventBus, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		bus:    bus,
		logger: logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *StreamHandler) handleConnection(conn *websocket.Conn) {
	channel := strings.TrimSpace(conn.Query("channel"))
	if channel == "" {
		channel = service.InstructorChannel
	}
	if !validChannel(channel) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "unknown channel"))
		_ = conn.Close()
		return
	}

	events, cancel := h.bus.Subscribe(channel)
	defer cancel()

	h.logger.Info().Str("channel", channel).Msg("stream connected")
	defer h.logger.Info().Str("channel", channel).Msg("stream disconnected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func validChannel(channel string) bool {
	if channel == service.InstructorChannel {
		return true
	}
	return strings.HasPrefix(channel, "lab-session:")
}
