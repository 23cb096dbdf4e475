// Package session owns the process's active voice sessions and the bots
// that serve them. All state lives on a Manager; there are no package-level
// maps.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-persona/pkg/bot"
	"github.com/teslashibe/go-persona/pkg/persona"
)

var (
	// ErrRoomOccupied is returned when a room already has a bot.
	ErrRoomOccupied = errors.New("session: room already has an active session")

	// ErrVoiceUnavailable is returned when voice credentials are missing.
	ErrVoiceUnavailable = errors.New("session: voice is not configured")

	// ErrUnknownRoom is returned when no session is bound to a room.
	ErrUnknownRoom = errors.New("session: unknown room")

	// ErrClosed is returned by StartVoice once Shutdown has begun.
	ErrClosed = errors.New("session: manager is shut down")
)

// Session is one voice engagement bound to a room and a persona.
type Session struct {
	ID        string         `json:"id"`
	Persona   string         `json:"persona"`
	Config    persona.Config `json:"-"`
	RoomName  string         `json:"roomName"`
	StartTime time.Time      `json:"startTime"`
	Active    bool           `json:"active"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
}

// Bot is the running participant behind a session. *bot.Participant
// satisfies it.
type Bot interface {
	Connect(ctx context.Context) error
	Cleanup(ctx context.Context) error
	FeedAudio(chunk []byte) (bool, error)
	Stats() bot.Stats
}

var _ Bot = (*bot.Participant)(nil)

// BotFactory builds an unconnected bot for a room.
type BotFactory func(roomName string, p *persona.Config) (Bot, error)

// Info pairs a session with its bot's counters.
type Info struct {
	Session
	Bot *bot.Stats `json:"bot,omitempty"`
}

// binding is a room reservation. bot is nil while the bot is connecting;
// cancel aborts that connect.
type binding struct {
	session *Session
	bot     Bot
	cancel  context.CancelFunc
}

// Manager tracks sessions by id and bots by room name.
type Manager struct {
	personas *persona.Registry
	factory  BotFactory
	ready    func() error
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]*binding
	closed   bool
	starting sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithBotFactory sets how bots are built for StartVoice.
func WithBotFactory(f BotFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithPreflight sets a check run before every StartVoice; a non-nil error
// fails the start with ErrVoiceUnavailable.
func WithPreflight(check func() error) Option {
	return func(m *Manager) { m.ready = check }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over the persona registry.
func NewManager(personas *persona.Registry, opts ...Option) *Manager {
	m := &Manager{
		personas: personas,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session.Manager")
	return m
}

// Personas returns the persona registry.
func (m *Manager) Personas() *persona.Registry {
	return m.personas
}

// CreateSession records a new active session for a registered persona. It
// performs no I/O and returns a snapshot of the stored session.
func (m *Manager) CreateSession(personaName, roomName string) (Session, error) {
	p := m.personas.Lookup(personaName)
	if p == nil {
		return Session{}, fmt.Errorf("%w: %q", persona.ErrUnknownPersona, personaName)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Persona:   p.Name,
		Config:    *p,
		RoomName:  roomName,
		StartTime: m.now(),
		Active:    true,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return *s, nil
}

// EndSession marks a session inactive and forgets it. Unknown ids return
// false.
func (m *Manager) EndSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	end := m.now()
	s.Active = false
	s.EndTime = &end
	delete(m.sessions, id)
	return true
}

// Session returns a session by id.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// RoomName generates a fresh room name for a persona.
func RoomName(personaName string) string {
	return fmt.Sprintf("%s-%s", personaName, shortuuid.New())
}

// StartVoice creates a session and a connected bot for it. An empty
// roomName gets a generated one. A room that already has a session is
// rejected with ErrRoomOccupied. If the bot cannot connect, the session is
// ended and the error returned. Once Shutdown has begun, new starts fail
// with ErrClosed and in-flight ones are cancelled and cleaned up.
func (m *Manager) StartVoice(ctx context.Context, personaName, roomName string) (Session, error) {
	p := m.personas.Lookup(personaName)
	if p == nil {
		return Session{}, fmt.Errorf("%w: %q", persona.ErrUnknownPersona, personaName)
	}
	if m.factory == nil {
		return Session{}, fmt.Errorf("%w: no bot factory", ErrVoiceUnavailable)
	}
	if m.ready != nil {
		if err := m.ready(); err != nil {
			return Session{}, fmt.Errorf("%w: %v", ErrVoiceUnavailable, err)
		}
	}
	if roomName == "" {
		roomName = RoomName(p.Name)
	}

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	if _, taken := m.rooms[roomName]; taken {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrRoomOccupied, roomName)
	}
	// Reserve the room before any I/O so concurrent starts cannot race.
	b := &binding{cancel: cancel}
	m.rooms[roomName] = b
	m.starting.Add(1)
	m.mu.Unlock()
	defer m.starting.Done()

	sess, err := m.CreateSession(p.Name, roomName)
	if err != nil {
		m.unreserve(roomName, b)
		return Session{}, err
	}
	logger := m.logger.With("room", roomName, "persona", p.Name, "session", sess.ID)

	release := func(err error) (Session, error) {
		m.unreserve(roomName, b)
		m.EndSession(sess.ID)
		logger.Error("voice start failed", "error", err)
		return Session{}, err
	}

	participant, err := m.factory(roomName, p)
	if err != nil {
		return release(fmt.Errorf("session: build bot: %w", err))
	}
	if err := participant.Connect(connectCtx); err != nil {
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return release(err)
	}

	m.mu.Lock()
	if m.closed || m.rooms[roomName] != b {
		m.mu.Unlock()
		if err := participant.Cleanup(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("bot cleanup", "error", err)
		}
		return release(ErrClosed)
	}
	b.session = m.sessions[sess.ID]
	b.bot = participant
	b.cancel = nil
	m.mu.Unlock()

	logger.Info("voice session started")
	return sess, nil
}

// unreserve drops roomName's reservation if it is still b.
func (m *Manager) unreserve(roomName string, b *binding) {
	m.mu.Lock()
	if m.rooms[roomName] == b {
		delete(m.rooms, roomName)
	}
	m.mu.Unlock()
}

// EndVoice disconnects the bot in roomName and ends its session. It
// returns false if the room has no session.
func (m *Manager) EndVoice(ctx context.Context, roomName string) bool {
	m.mu.Lock()
	b, ok := m.rooms[roomName]
	if !ok || b.bot == nil {
		m.mu.Unlock()
		return false
	}
	delete(m.rooms, roomName)
	m.mu.Unlock()

	m.stop(ctx, roomName, b)
	return true
}

func (m *Manager) stop(ctx context.Context, roomName string, b *binding) {
	if err := b.bot.Cleanup(ctx); err != nil {
		m.logger.Warn("bot cleanup", "room", roomName, "error", err)
	}
	if b.session != nil {
		m.EndSession(b.session.ID)
	}
	m.logger.Info("voice session ended", "room", roomName)
}

// Lookup returns the session bound to a connected room.
func (m *Manager) Lookup(roomName string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.rooms[roomName]
	if !ok || b.session == nil {
		return Session{}, false
	}
	return *b.session, true
}

// Bot returns the bot serving a room.
func (m *Manager) Bot(roomName string) (Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.rooms[roomName]
	if !ok || b.bot == nil {
		return nil, false
	}
	return b.bot, true
}

// ActiveCount returns the number of active sessions, with or without a bot.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions lists active sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	bots := make(map[string]Bot, len(m.rooms))
	for room, b := range m.rooms {
		if b.bot != nil {
			bots[room] = b.bot
		}
	}
	for _, s := range m.sessions {
		out = append(out, Info{Session: *s})
	}
	m.mu.RUnlock()

	for i := range out {
		if b, ok := bots[out[i].RoomName]; ok {
			st := b.Stats()
			out[i].Bot = &st
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Shutdown rejects further starts, cancels bots that are still connecting,
// disconnects every connected bot concurrently, and ends all sessions. It
// waits for in-flight starts to finish their own cleanup, up to ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var connected []*binding
	var names []string
	for name, b := range m.rooms {
		if b.bot == nil {
			b.cancel()
			continue
		}
		connected = append(connected, b)
		names = append(names, name)
	}
	m.rooms = make(map[string]*binding)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range connected {
		g.Go(func() error {
			m.stop(gctx, names[i], b)
			return nil
		})
	}
	err := g.Wait()

	pending := make(chan struct{})
	go func() {
		m.starting.Wait()
		close(pending)
	}()
	select {
	case <-pending:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	m.mu.Lock()
	for id := range m.sessions {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.logger.Info("all sessions ended", "rooms", len(connected))
	return err
}
