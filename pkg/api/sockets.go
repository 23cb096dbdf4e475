package api

import (
	"sync/atomic"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// audioStats counts ingress audio frames across all rooms.
type audioStats struct {
	connections atomic.Int64
	received    atomic.Uint64
	forwarded   atomic.Uint64
	dropped     atomic.Uint64
}

// AudioStats is the JSON view of audioStats.
type AudioStats struct {
	Connections int64  `json:"connections"`
	Received    uint64 `json:"received"`
	Forwarded   uint64 `json:"forwarded"`
	Dropped     uint64 `json:"dropped"`
}

func (a *audioStats) snapshot() AudioStats {
	return AudioStats{
		Connections: a.connections.Load(),
		Received:    a.received.Load(),
		Forwarded:   a.forwarded.Load(),
		Dropped:     a.dropped.Load(),
	}
}

func (s *Server) registerSockets(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if contribws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/audio/:roomName", contribws.New(s.handleAudioWS))
	app.Get("/ws/rooms/:roomName", websocket.New(s.handleRoomWS))
}

// handleAudioWS feeds binary PCM16 frames to the room's bot. Frames that
// arrive while the bot is still sending the previous one are dropped.
func (s *Server) handleAudioWS(c *contribws.Conn) {
	roomName := c.Params("roomName")
	logger := s.logger.With("room", roomName)

	b, ok := s.deps.Sessions.Bot(roomName)
	if !ok {
		_ = c.WriteMessage(contribws.CloseMessage,
			contribws.FormatCloseMessage(contribws.ClosePolicyViolation, "no active session"))
		return
	}

	s.audio.connections.Add(1)
	defer s.audio.connections.Add(-1)
	logger.Info("audio ingress connected")

	for {
		kind, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("audio ingress closed", "error", err)
			return
		}
		if kind != contribws.BinaryMessage {
			continue
		}
		s.audio.received.Add(1)

		sent, err := b.FeedAudio(data)
		if err != nil {
			logger.Warn("audio ingress stopped", "error", err)
			return
		}
		if sent {
			s.audio.forwarded.Add(1)
		} else {
			s.audio.dropped.Add(1)
		}
	}
}

// handleRoomWS streams the room's broadcast payloads to an observer.
func (s *Server) handleRoomWS(c *websocket.Conn) {
	if s.deps.Hub == nil {
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "monitor disabled"))
		return
	}
	s.deps.Hub.Serve(c, c.Params("roomName"))
}
