// Package bot runs one persona inside one room.
//
// A Participant joins its room, streams participant audio to a transcript
// listener, and answers every finalized transcript with synthesized speech broadcast to the room.
// Transcripts go through a bounded FIFO handled by a single goroutine, so
// replies are broadcast in the order the speech was recognized. A failed
// utterance is logged and skipped; the bot keeps listening.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-persona/internal/log"
	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/prompt"
	"github.com/teslashibe/go-persona/pkg/room"
	"github.com/teslashibe/go-persona/pkg/stt"
	"github.com/teslashibe/go-persona/pkg/tts"
	"github.com/teslashibe/go-persona/pkg/voice"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// bot's current state.
	ErrInvalidState = errors.New("bot: invalid state")

	// ErrEmptyReply is returned when the cleaned completion is empty.
	ErrEmptyReply = errors.New("bot: empty reply")
)

// Room is the room gateway surface a bot needs. *room.Gateway satisfies it.
type Room interface {
	EnsureRoom(ctx context.Context, roomName, metadata string) error
	MintBotToken(roomName, persona string) (string, error)
	Join(roomName, token string, sink room.AudioSink) (room.Connection, error)
	SubscribeAll(ctx context.Context, roomName, botIdentity string) int
	Broadcast(ctx context.Context, roomName string, payload any)
	RemoveBotFromRoom(ctx context.Context, roomName, persona string)
	Clips() *room.ClipStore
}

// Completer produces a persona's reply. *completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string, p *persona.Config) (string, error)
}

// Speaker synthesizes a persona's reply. *tts.Synthesizer satisfies it.
type Speaker interface {
	Synthesize(ctx context.Context, text string, p *persona.Config) (*tts.AudioResult, error)
}

var _ Room = (*room.Gateway)(nil)

// Deps are the collaborators shared by every bot in the process.
type Deps struct {
	Room       Room
	Listener   stt.Listener
	Prompts    *prompt.Builder
	Completion Completer
	Speech     Speaker

	// Metrics is optional.
	Metrics *voice.Collector
}

func (d Deps) validate() error {
	switch {
	case d.Room == nil:
		return errors.New("bot: room gateway required")
	case d.Listener == nil:
		return errors.New("bot: transcript listener required")
	case d.Prompts == nil:
		return errors.New("bot: prompt builder required")
	case d.Completion == nil:
		return errors.New("bot: completion client required")
	case d.Speech == nil:
		return errors.New("bot: speech synthesizer required")
	}
	return nil
}

// Participant is a persona bot bound to one room. The room name doubles as
// the conversation memory session id.
type Participant struct {
	roomName string
	persona  *persona.Config
	deps     Deps
	config   *Config
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.RWMutex
	state        State
	stream       stt.Stream
	media        room.Connection
	connectionID string
	token        string
	cancel       context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	processingAudio atomic.Bool
	audioDropped    atomic.Uint64
	queueDropped    atomic.Uint64
	handled         atomic.Uint64
	failed          atomic.Uint64
}

// New creates a bot in the CREATED state.
func New(roomName string, p *persona.Config, deps Deps, opts ...Option) (*Participant, error) {
	if strings.TrimSpace(roomName) == "" {
		return nil, errors.New("bot: room name required")
	}
	if p == nil {
		return nil, errors.New("bot: persona required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Participant{
		roomName: roomName,
		persona:  p,
		deps:     deps,
		config:   cfg,
		logger:   log.ForSession(cfg.Logger.With("component", "bot.Participant"), roomName, p.Name),
		now:      time.Now,
		state:    StateCreated,
		queue:    make(chan string, cfg.QueueSize),
	}, nil
}

// RoomName returns the bot's room.
func (b *Participant) RoomName() string { return b.roomName }

// Persona returns the bot's persona.
func (b *Participant) Persona() *persona.Config { return b.persona }

// Identity returns the bot's room identity.
func (b *Participant) Identity() string { return room.BotIdentity(b.persona.Name) }

// State returns the current lifecycle state.
func (b *Participant) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ConnectionID returns the transcript connection id, empty before Connect.
func (b *Participant) ConnectionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectionID
}

// Token returns the bot's room token, empty before Connect.
func (b *Participant) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// Connect joins the room and starts listening. Steps run in order: ensure
// room, mint token, open transcript stream, join the room's media session,
// subscribe to current participants, register the transcript callback, arm
// the refresh ticker. The whole sequence is bounded by the connect timeout.
// On failure everything opened so far is released and the bot ends
// DISCONNECTED. If Cleanup runs while Connect is in flight, Connect releases
// what it opened and returns ErrInvalidState.
func (b *Participant) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateCreated {
		st := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, st)
	}
	b.state = StateConnecting
	b.mu.Unlock()

	b.logger.Info("connecting")

	ctx, cancelConnect := context.WithTimeout(ctx, b.config.ConnectTimeout)
	defer cancelConnect()

	var (
		stream stt.Stream
		media  room.Connection
	)
	release := func() {
		if media != nil {
			media.Disconnect()
		}
		if stream != nil {
			_ = stream.Close()
		}
	}
	fail := func(err error) error {
		release()
		b.mu.Lock()
		if b.state == StateConnecting {
			b.state = StateDisconnected
		}
		b.mu.Unlock()
		b.logger.Error("connect failed", "error", err)
		return err
	}
	abandoned := func() error {
		release()
		b.logger.Info("connect abandoned, bot was cleaned up")
		return fmt.Errorf("%w: cleaned up while connecting", ErrInvalidState)
	}

	meta, _ := json.Marshal(map[string]string{"persona": b.persona.Name})
	if err := b.deps.Room.EnsureRoom(ctx, b.roomName, string(meta)); err != nil {
		return fail(fmt.Errorf("bot: ensure room: %w", err))
	}

	token, err := b.deps.Room.MintBotToken(b.roomName, b.persona.Name)
	if err != nil {
		return fail(fmt.Errorf("bot: mint token: %w", err))
	}

	connID := fmt.Sprintf("%s-%d", b.roomName, b.now().UnixMilli())
	stream, err = b.deps.Listener.Open(ctx, connID)
	if err != nil {
		return fail(fmt.Errorf("bot: open transcript stream: %w", err))
	}
	if !b.connecting() {
		return abandoned()
	}

	media, err = b.deps.Room.Join(b.roomName, token, b.roomAudio)
	if err != nil {
		return fail(fmt.Errorf("bot: join room: %w", err))
	}

	n := b.deps.Room.SubscribeAll(ctx, b.roomName, b.Identity())
	b.logger.Debug("initial subscription pass", "participants", n)

	stream.OnTranscript(func(t stt.Transcript) {
		b.HandleTranscript(t.Text)
	})

	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	if b.state != StateConnecting {
		b.mu.Unlock()
		cancel()
		return abandoned()
	}
	b.token = token
	b.connectionID = connID
	b.stream = stream
	b.media = media
	b.cancel = cancel
	b.wg.Add(2)
	b.state = StateListening
	b.mu.Unlock()

	go b.refreshLoop(runCtx)
	go b.worker(runCtx)

	b.logger.Info("listening", "connection", connID)
	return nil
}

func (b *Participant) connecting() bool {
	return b.State() == StateConnecting
}

// roomAudio forwards decoded participant audio to the transcript stream.
func (b *Participant) roomAudio(identity string, pcm []byte) {
	if _, err := b.FeedAudio(pcm); err != nil && !errors.Is(err, ErrInvalidState) {
		b.logger.Debug("room audio dropped", "participant", identity, "error", err)
	}
}

func (b *Participant) refreshLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.deps.Room.SubscribeAll(ctx, b.roomName, b.Identity())
		}
	}
}

func (b *Participant) worker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-b.queue:
			if err := b.Process(ctx, text); err != nil {
				b.logger.Warn("utterance failed", "error", err)
			}
		}
	}
}

// HandleTranscript queues a finalized transcript. It reports whether the
// transcript was accepted; blank text, a full queue, or a bot that is not
// listening all reject it.
func (b *Participant) HandleTranscript(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if b.State() != StateListening {
		b.logger.Debug("transcript ignored", "state", b.State())
		return false
	}

	select {
	case b.queue <- text:
		return true
	default:
		b.queueDropped.Add(1)
		b.logger.Warn("transcript queue full, dropping utterance", "queue", cap(b.queue))
		return false
	}
}

// Process runs one utterance through prompt, completion, speech and
// broadcast under the utterance timeout. Memory records the user turn even
// when a later stage fails.
func (b *Participant) Process(ctx context.Context, text string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.UtteranceTimeout)
	defer cancel()

	var turn *voice.Turn
	if b.deps.Metrics != nil {
		turn = b.deps.Metrics.Begin(text)
		defer func() {
			m := b.deps.Metrics.Finish(turn, err)
			b.logger.Debug("utterance timing", "latency", m.FormatLatency())
		}()
	}
	defer func() {
		if err != nil {
			b.failed.Add(1)
		} else {
			b.handled.Add(1)
		}
	}()

	b.logger.Info("transcript", "text", text)

	composed := b.deps.Prompts.Build(text, b.persona, b.roomName)
	turn.Mark(voice.StagePrompt)

	raw, err := b.deps.Completion.Complete(ctx, composed, b.persona)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	reply := b.deps.Prompts.ExtractResponse(raw, b.persona, b.roomName)
	turn.Mark(voice.StageCompletion)
	turn.SetReply(reply)
	if reply == "" {
		return ErrEmptyReply
	}
	b.logger.Info("reply", "text", reply)

	audio, err := b.deps.Speech.Synthesize(ctx, reply, b.persona)
	if err != nil {
		return fmt.Errorf("speech: %w", err)
	}
	turn.Mark(voice.StageSpeech)
	turn.SetAudio(len(audio.Audio))

	url := b.deps.Room.Clips().Publish(audio.Audio, audio.MIMEType())
	b.deps.Room.Broadcast(ctx, b.roomName, room.NewAudioPayload(b.persona.Name, url, b.now()))
	turn.Mark(voice.StageBroadcast)

	b.logger.Debug("reply broadcast", "bytes", len(audio.Audio))
	return nil
}

// FeedAudio forwards one audio chunk to the transcript stream. A chunk that
// arrives while the previous one is still being sent is dropped; the
// result reports whether the chunk was forwarded.
func (b *Participant) FeedAudio(chunk []byte) (bool, error) {
	b.mu.RLock()
	state, stream := b.state, b.stream
	b.mu.RUnlock()
	if state != StateListening || stream == nil {
		return false, fmt.Errorf("%w: feed audio while %s", ErrInvalidState, state)
	}

	if !b.processingAudio.CompareAndSwap(false, true) {
		b.audioDropped.Add(1)
		return false, nil
	}
	defer b.processingAudio.Store(false)

	if err := stream.SendAudio(chunk); err != nil {
		return false, fmt.Errorf("bot: send audio: %w", err)
	}
	return true, nil
}

// Cleanup stops the bot: the refresh ticker and worker stop, the transcript
// stream closes, the bot identity is removed from the room, and its media
// session is dropped. It is
// idempotent and never fails; room errors are logged.
func (b *Participant) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateCleaningUp, StateDisconnected:
		b.mu.Unlock()
		return nil
	case StateCreated:
		b.state = StateDisconnected
		b.mu.Unlock()
		return nil
	}
	b.state = StateCleaningUp
	cancel, stream, media := b.cancel, b.stream, b.media
	b.cancel, b.stream, b.media = nil, nil, nil
	b.mu.Unlock()

	b.logger.Info("cleaning up")

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	if stream != nil {
		if err := stream.Close(); err != nil {
			b.logger.Warn("close transcript stream", "error", err)
		}
	}
	b.deps.Room.RemoveBotFromRoom(ctx, b.roomName, b.persona.Name)
	if media != nil {
		media.Disconnect()
	}

	b.mu.Lock()
	b.state = StateDisconnected
	b.mu.Unlock()

	b.logger.Info("disconnected")
	return nil
}

// Disconnect is an alias for Cleanup.
func (b *Participant) Disconnect(ctx context.Context) error {
	return b.Cleanup(ctx)
}

// Stats is a point-in-time view of a bot.
type Stats struct {
	RoomName     string `json:"roomName"`
	Persona      string `json:"persona"`
	State        State  `json:"state"`
	ConnectionID string `json:"connectionId,omitempty"`
	Handled      uint64 `json:"handled"`
	Failed       uint64 `json:"failed"`
	AudioDropped uint64 `json:"audioDropped"`
	QueueDropped uint64 `json:"queueDropped"`
	Pending      int    `json:"pending"`
}

// Stats returns the bot's counters.
func (b *Participant) Stats() Stats {
	b.mu.RLock()
	state, connID := b.state, b.connectionID
	b.mu.RUnlock()
	return Stats{
		RoomName:     b.roomName,
		Persona:      b.persona.Name,
		State:        state,
		ConnectionID: connID,
		Handled:      b.handled.Load(),
		Failed:       b.failed.Load(),
		AudioDropped: b.audioDropped.Load(),
		QueueDropped: b.queueDropped.Load(),
		Pending:      len(b.queue),
	}
}
