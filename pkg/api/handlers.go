package api

import (
	"bufio"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/session"
)

// DefaultChatSession is the memory session used when a chat request has no
// sessionId.
const DefaultChatSession = "default"

// StartRequest is the body of POST /api/voice/start.
type StartRequest struct {
	Persona  string `json:"persona"`
	RoomName string `json:"roomName"`
}

// StartResponse is returned by POST /api/voice/start.
type StartResponse struct {
	RoomName  string `json:"roomName"`
	Persona   string `json:"persona"`
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

// EndRequest is the body of POST /api/voice/end.
type EndRequest struct {
	RoomName string `json:"roomName"`
}

// TokenResponse is returned by GET /api/voice/token.
type TokenResponse struct {
	Token           string `json:"token"`
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
	URL             string `json:"url"`
}

// ChatRequest is the body of POST /api/chat/:persona.
type ChatRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId"`
	VoiceEnabled bool   `json:"voiceEnabled"`
}

// ChatResponse is the text reply of POST /api/chat/:persona.
type ChatResponse struct {
	Response string `json:"response"`
	Persona  string `json:"persona"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":   "ok",
		"version":  s.config.Version,
		"sessions": s.deps.Sessions.ActiveCount(),
		"personas": s.deps.Sessions.Personas().Names(),
		"audio":    s.audio.snapshot(),
	}
	if s.deps.Metrics != nil {
		resp["utterances"] = s.deps.Metrics.Snapshot()
	}
	if s.deps.Hub != nil {
		resp["monitor"] = s.deps.Hub.Snapshot()
	}
	return c.JSON(resp)
}

func (s *Server) handleVoiceStart(c *fiber.Ctx) error {
	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Persona = strings.TrimSpace(req.Persona)
	if req.Persona == "" {
		return errorJSON(c, fiber.StatusBadRequest, "persona is required")
	}

	sess, err := s.deps.Sessions.StartVoice(c.UserContext(), req.Persona, strings.TrimSpace(req.RoomName))
	switch {
	case err == nil:
	case errors.Is(err, persona.ErrUnknownPersona):
		return errorf(c, fiber.StatusNotFound, "unknown persona %q", req.Persona)
	case errors.Is(err, session.ErrRoomOccupied):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, session.ErrVoiceUnavailable), errors.Is(err, session.ErrClosed):
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("voice start failed", "persona", req.Persona, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to start voice session")
	}

	return c.JSON(StartResponse{
		RoomName:  sess.RoomName,
		Persona:   sess.Persona,
		Success:   true,
		SessionID: sess.ID,
	})
}

func (s *Server) handleVoiceEnd(c *fiber.Ctx) error {
	var req EndRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.RoomName) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "roomName is required")
	}

	if !s.deps.Sessions.EndVoice(c.UserContext(), req.RoomName) {
		return errorf(c, fiber.StatusNotFound, "no active session for room %q", req.RoomName)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Voice session ended",
	})
}

func (s *Server) handleVoiceToken(c *fiber.Ctx) error {
	roomName := c.Query("roomName")
	participant := c.Query("participantName")
	if roomName == "" || participant == "" {
		return errorJSON(c, fiber.StatusBadRequest, "roomName and participantName are required")
	}
	if s.deps.Tokens == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "room service is not configured")
	}
	if _, ok := s.deps.Sessions.Lookup(roomName); !ok {
		return errorf(c, fiber.StatusNotFound, "no active session for room %q", roomName)
	}

	token, err := s.deps.Tokens.MintToken(roomName, participant)
	if err != nil {
		s.logger.Error("mint token failed", "room", roomName, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to create token")
	}
	return c.JSON(TokenResponse{
		Token:           token,
		RoomName:        roomName,
		ParticipantName: participant,
		URL:             s.deps.Tokens.URL(),
	})
}

func (s *Server) handleClip(c *fiber.Ctx) error {
	clip, ok := s.deps.Clips.Get(c.Params("id"))
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "clip not found")
	}
	c.Set(fiber.HeaderContentType, clip.MIMEType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=600")
	return c.Send(clip.Data)
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	sessions := s.deps.Sessions.Sessions()
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleChat runs the prompt and completion path without a room. With
// voiceEnabled the reply is streamed back as audio instead of JSON.
func (s *Server) handleChat(c *fiber.Ctx) error {
	p := s.deps.Sessions.Personas().Lookup(c.Params("persona"))
	if p == nil {
		return errorf(c, fiber.StatusNotFound, "unknown persona %q", c.Params("persona"))
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "message is required")
	}
	if req.SessionID == "" {
		req.SessionID = DefaultChatSession
	}

	ctx := c.UserContext()
	composed := s.deps.Prompts.Build(req.Message, p, req.SessionID)
	raw, err := s.deps.Completion.Complete(ctx, composed, p)
	if err != nil {
		s.logger.Error("chat completion failed", "persona", p.Name, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to generate response")
	}
	reply := s.deps.Prompts.ExtractResponse(raw, p, req.SessionID)

	if !req.VoiceEnabled {
		return c.JSON(ChatResponse{Response: reply, Persona: p.Name})
	}

	if s.deps.Speech == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "speech is not configured")
	}
	stream, err := s.deps.Speech.Stream(ctx, reply, p)
	if err != nil {
		s.logger.Error("chat speech failed", "persona", p.Name, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to synthesize response")
	}

	c.Set(fiber.HeaderContentType, stream.Format().Encoding.MIMEType())
	c.Set("X-Persona", p.Name)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Close()
		for {
			chunk, err := stream.Read()
			if err != nil {
				s.logger.Warn("chat audio stream ended early", "persona", p.Name, "error", err)
				return
			}
			if chunk == nil {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
