// Package api exposes the persona voice service over HTTP and websockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-persona/pkg/hub"
	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/prompt"
	"github.com/teslashibe/go-persona/pkg/room"
	"github.com/teslashibe/go-persona/pkg/session"
	"github.com/teslashibe/go-persona/pkg/tts"
	"github.com/teslashibe/go-persona/pkg/voice"
)

// Completer produces a persona's reply. *completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string, p *persona.Config) (string, error)
}

// Speaker streams a persona's reply as audio. *tts.Synthesizer satisfies it.
type Speaker interface {
	Stream(ctx context.Context, text string, p *persona.Config) (tts.AudioStream, error)
}

// Tokens mints room access for human participants. *room.Gateway
// satisfies it.
type Tokens interface {
	MintToken(roomName, participantName string) (string, error)
	URL() string
}

var (
	_ Speaker = (*tts.Synthesizer)(nil)
	_ Tokens  = (*room.Gateway)(nil)
)

// Deps are the services behind the routes. Tokens, Speech, Hub and Metrics
// are optional; routes that need a missing one answer 503.
type Deps struct {
	Sessions   *session.Manager
	Prompts    *prompt.Builder
	Completion Completer
	Speech     Speaker
	Tokens     Tokens
	Clips      *room.ClipStore
	Hub        *hub.Hub
	Metrics    *voice.Collector
}

// Config holds server settings.
type Config struct {
	Addr           string
	Version        string
	ChatRatePerMin int
	Debug          bool
	Logger         *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(c *Config) { c.Version = v }
}

// WithChatRate sets the per-client chat request budget per minute. Zero
// disables limiting.
func WithChatRate(perMinute int) Option {
	return func(c *Config) { c.ChatRatePerMin = perMinute }
}

// WithDebug enables request logging.
func WithDebug(on bool) Option {
	return func(c *Config) { c.Debug = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Server is the HTTP front end.
type Server struct {
	app    *fiber.App
	deps   Deps
	config Config
	logger *slog.Logger
	chat   *limiter
	audio  audioStats
}

// New builds the server and registers every route.
func New(deps Deps, opts ...Option) (*Server, error) {
	if deps.Sessions == nil || deps.Prompts == nil || deps.Completion == nil {
		return nil, errors.New("api: sessions, prompts and completion are required")
	}
	cfg := Config{Addr: ":8080", Version: "dev", Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if deps.Clips == nil {
		deps.Clips = room.NewClipStore("", 0, 0)
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: cfg.Logger.With("component", "api.Server"),
		chat:   newLimiter(cfg.ChatRatePerMin),
	}

	app := fiber.New(fiber.Config{
		AppName:               "persona-voice",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	v := api.Group("/voice")
	v.Post("/start", s.handleVoiceStart)
	v.Post("/end", s.handleVoiceEnd)
	v.Get("/token", s.handleVoiceToken)
	v.Get("/clips/:id", s.handleClip)
	v.Get("/sessions", s.handleSessions)
	api.Post("/chat/:persona", s.rateLimit, s.handleChat)

	s.registerSockets(app)

	s.app = app
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.config.Addr)
	return s.app.Listen(s.config.Addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return errorJSON(c, code, err.Error())
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func errorf(c *fiber.Ctx, status int, format string, args ...any) error {
	return errorJSON(c, status, fmt.Sprintf(format, args...))
}
