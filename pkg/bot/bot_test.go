package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-persona/internal/log"
	"github.com/teslashibe/go-persona/pkg/memory"
	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/prompt"
	"github.com/teslashibe/go-persona/pkg/room"
	"github.com/teslashibe/go-persona/pkg/stt"
	"github.com/teslashibe/go-persona/pkg/tts"
	"github.com/teslashibe/go-persona/pkg/voice"
)

type fakeRoom struct {
	mu         sync.Mutex
	calls      []string
	broadcasts []room.Payload
	subscribes int
	removed    int
	ensureErr  error
	joinErr    error
	sink       room.AudioSink
	media      *fakeMedia
	clips      *room.ClipStore
}

type fakeMedia struct {
	mu          sync.Mutex
	disconnects int
}

func (m *fakeMedia) Disconnect() {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{clips: room.NewClipStore("", 0, 0), media: &fakeMedia{}}
}

func (f *fakeRoom) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRoom) EnsureRoom(ctx context.Context, roomName, metadata string) error {
	f.record("ensure:" + roomName)
	return f.ensureErr
}

func (f *fakeRoom) MintBotToken(roomName, p string) (string, error) {
	f.record("token:" + room.BotIdentity(p))
	return "tok", nil
}

func (f *fakeRoom) Join(roomName, token string, sink room.AudioSink) (room.Connection, error) {
	f.record("join:" + token)
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	return f.media, nil
}

func (f *fakeRoom) audioSink() room.AudioSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

func (f *fakeRoom) SubscribeAll(ctx context.Context, roomName, botIdentity string) int {
	f.mu.Lock()
	f.subscribes++
	f.mu.Unlock()
	f.record("subscribe")
	return 1
}

func (f *fakeRoom) Broadcast(ctx context.Context, roomName string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload.(room.Payload))
}

func (f *fakeRoom) RemoveBotFromRoom(ctx context.Context, roomName, p string) {
	f.mu.Lock()
	f.removed++
	f.mu.Unlock()
}

func (f *fakeRoom) Clips() *room.ClipStore { return f.clips }

func (f *fakeRoom) snapshot() (calls []string, broadcasts []room.Payload, subscribes, removed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]room.Payload(nil), f.broadcasts...), f.subscribes, f.removed
}

// echoCompleter replies with "Assistant: re <message>".
type echoCompleter struct {
	delay time.Duration
	err   error
}

func (e echoCompleter) Complete(ctx context.Context, composed string, p *persona.Config) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	msg := composed[strings.LastIndex(composed, "User message: ")+len("User message: "):]
	if i := strings.Index(msg, "\n"); i >= 0 {
		msg = msg[:i]
	}
	return "Assistant: re " + msg, nil
}

type fixture struct {
	room     *fakeRoom
	listener *stt.Mock
	mem      *memory.Store
	speech   *tts.Mock
	metrics  *voice.Collector
	bot      *Participant
}

func newFixture(t *testing.T, completer Completer, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		room:     newFakeRoom(),
		listener: stt.NewMock(),
		mem:      memory.New(),
		speech:   tts.NewMock(),
		metrics:  voice.NewCollector(),
	}
	p := persona.Default().Lookup(persona.Rafa)
	require.NotNil(t, p)

	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	b, err := New("r1", p, Deps{
		Room:       f.room,
		Listener:   f.listener,
		Prompts:    prompt.NewBuilder(f.mem),
		Completion: completer,
		Speech:     tts.NewSynthesizer(f.speech, tts.WithSynthesizerLogger(log.Discard())),
		Metrics:    f.metrics,
	}, opts...)
	require.NoError(t, err)
	f.bot = b
	return f
}

func TestNewValidates(t *testing.T) {
	p := persona.Default().Lookup(persona.Adina)
	_, err := New("", p, Deps{})
	assert.Error(t, err)
	_, err = New("r1", nil, Deps{})
	assert.Error(t, err)
	_, err = New("r1", p, Deps{})
	assert.Error(t, err)
}

func TestConnectOrder(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	f.bot.now = func() time.Time { return time.UnixMilli(1700000000123) }

	assert.Equal(t, StateCreated, f.bot.State())
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	assert.Equal(t, StateListening, f.bot.State())
	assert.Equal(t, "r1-1700000000123", f.bot.ConnectionID())
	assert.Equal(t, "tok", f.bot.Token())
	assert.Equal(t, "rafa-bot", f.bot.Identity())

	calls, _, _, _ := f.room.snapshot()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, []string{"ensure:r1", "token:rafa-bot", "join:tok", "subscribe"}, calls[:4])

	stream := f.listener.Last()
	require.NotNil(t, stream)
	assert.Equal(t, "r1-1700000000123", stream.ID())

	err := f.bot.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnectFailureDisconnects(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	f.room.ensureErr = errors.New("room service down")

	err := f.bot.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, f.bot.State())
	assert.Empty(t, f.listener.Streams())
}

func TestConnectStreamFailure(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	f.listener.OpenFunc = func(ctx context.Context, id string) (stt.Stream, error) {
		return nil, errors.New("dial refused")
	}

	err := f.bot.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")
	assert.Equal(t, StateDisconnected, f.bot.State())
	assert.NoError(t, f.bot.Cleanup(context.Background()))
}

func TestJoinFailureReleasesStream(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	f.room.joinErr = errors.New("signal refused")

	err := f.bot.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join room")
	assert.Equal(t, StateDisconnected, f.bot.State())
	assert.Equal(t, 1, f.listener.Last().CloseCount())
}

func TestConnectTimeout(t *testing.T) {
	f := newFixture(t, echoCompleter{}, WithConnectTimeout(20*time.Millisecond))
	f.listener.OpenFunc = func(ctx context.Context, id string) (stt.Stream, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := f.bot.Connect(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, f.bot.State())
}

func TestCleanupWhileConnecting(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var opened *stt.MockStream
	f.listener.OpenFunc = func(ctx context.Context, id string) (stt.Stream, error) {
		close(entered)
		<-release
		opened = stt.NewMockStream(id)
		return opened, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.bot.Connect(context.Background()) }()
	<-entered

	require.NoError(t, f.bot.Cleanup(context.Background()))
	assert.Equal(t, StateDisconnected, f.bot.State())

	close(release)
	err := <-done
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateDisconnected, f.bot.State())
	assert.Equal(t, 1, opened.CloseCount())
	assert.False(t, f.bot.HandleTranscript("still there?"))
	assert.False(t, opened.Emit("still there?"))

	calls, _, subs, _ := f.room.snapshot()
	assert.NotContains(t, calls, "join:tok")
	assert.Zero(t, subs)
}

func TestRoomAudioReachesTranscriptStream(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	sink := f.room.audioSink()
	require.NotNil(t, sink)
	sink("alice", []byte{1, 2, 3, 4})

	chunks := f.listener.Last().Chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunks[0])
}

func TestTranscriptBroadcastsReply(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	require.True(t, f.listener.Last().Emit("I feel really anxious about my exam"))

	require.Eventually(t, func() bool {
		_, b, _, _ := f.room.snapshot()
		return len(b) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, broadcasts, _, _ := f.room.snapshot()
	payload := broadcasts[0]
	assert.Equal(t, "audio", payload.Type)
	assert.Equal(t, persona.Rafa, payload.Persona)
	assert.True(t, strings.HasPrefix(payload.URL, "data:audio/mpeg;base64,"))
	assert.NotZero(t, payload.Timestamp)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"audio"`)

	last, ok := f.mem.Last("r1", persona.Rafa)
	require.True(t, ok)
	assert.Equal(t, memory.RoleAssistant, last.Role)
	assert.Equal(t, "re I feel really anxious about my exam", last.Content)

	calls := f.speech.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "re I feel really anxious about my exam", calls[0].Text)

	handled, failed := f.metrics.Counts()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 0, failed)
}

func TestRepliesKeepTranscriptOrder(t *testing.T) {
	f := newFixture(t, echoCompleter{delay: 5 * time.Millisecond}, WithQueueSize(16))
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	want := []string{"one", "two", "three", "four", "five"}
	for _, w := range want {
		require.True(t, f.bot.HandleTranscript(w))
	}

	require.Eventually(t, func() bool {
		return len(f.speech.Calls()) == len(want)
	}, 3*time.Second, 10*time.Millisecond)

	for i, c := range f.speech.Calls() {
		assert.Equal(t, "re "+want[i], c.Text)
	}
}

func TestQueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	blocking := completerFunc(func(ctx context.Context, composed string, p *persona.Config) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "ok", nil
	})
	f := newFixture(t, blocking, WithQueueSize(1))
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	require.True(t, f.bot.HandleTranscript("first"))
	require.Eventually(t, func() bool { return f.bot.Stats().Pending == 0 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.bot.HandleTranscript("second"))
	assert.False(t, f.bot.HandleTranscript("third"))
	assert.Equal(t, uint64(1), f.bot.Stats().QueueDropped)
	assert.False(t, f.bot.HandleTranscript("   "))

	close(release)
}

type completerFunc func(ctx context.Context, composed string, p *persona.Config) (string, error)

func (f completerFunc) Complete(ctx context.Context, composed string, p *persona.Config) (string, error) {
	return f(ctx, composed, p)
}

func TestPipelineErrorKeepsListening(t *testing.T) {
	f := newFixture(t, echoCompleter{err: errors.New("completion: 500")})
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	err := f.bot.Process(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, StateListening, f.bot.State())

	_, broadcasts, _, _ := f.room.snapshot()
	assert.Empty(t, broadcasts)

	last, ok := f.mem.Last("r1", persona.Rafa)
	require.True(t, ok)
	assert.Equal(t, memory.RoleUser, last.Role)
	assert.Equal(t, uint64(1), f.bot.Stats().Failed)
}

func TestSpeechErrorSkipsBroadcast(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	f.speech.SynthesizeFunc = func(ctx context.Context, req tts.Request) (*tts.AudioResult, error) {
		return nil, errors.New("tts unavailable")
	}
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	err := f.bot.Process(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speech")

	_, broadcasts, _, _ := f.room.snapshot()
	assert.Empty(t, broadcasts)
	assert.Equal(t, StateListening, f.bot.State())
}

func TestUtteranceTimeout(t *testing.T) {
	f := newFixture(t, echoCompleter{delay: time.Second}, WithUtteranceTimeout(20*time.Millisecond))
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	err := f.bot.Process(context.Background(), "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeedAudioSingleFlight(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	stream := f.listener.Last()
	entered := make(chan struct{})
	release := make(chan struct{})
	stream.SendFunc = func([]byte) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan bool)
	go func() {
		ok, err := f.bot.FeedAudio([]byte{1})
		assert.NoError(t, err)
		done <- ok
	}()
	<-entered

	ok, err := f.bot.FeedAudio([]byte{2})
	require.NoError(t, err)
	assert.False(t, ok, "chunk sent while busy must be dropped")

	close(release)
	assert.True(t, <-done)

	stream.SendFunc = nil
	ok, err = f.bot.FeedAudio([]byte{3})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, stream.Chunks(), 2)
	assert.Equal(t, uint64(1), f.bot.Stats().AudioDropped)
}

func TestFeedAudioBeforeConnect(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	_, err := f.bot.FeedAudio([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCleanupIdempotent(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	require.NoError(t, f.bot.Connect(context.Background()))

	require.NoError(t, f.bot.Cleanup(context.Background()))
	require.NoError(t, f.bot.Cleanup(context.Background()))
	assert.Equal(t, StateDisconnected, f.bot.State())

	_, _, _, removed := f.room.snapshot()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.listener.Last().CloseCount())
	assert.Equal(t, 1, f.room.media.count())

	assert.False(t, f.bot.HandleTranscript("after cleanup"))
}

func TestCleanupBeforeConnect(t *testing.T) {
	f := newFixture(t, echoCompleter{})
	require.NoError(t, f.bot.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, f.bot.State())
	assert.ErrorIs(t, f.bot.Connect(context.Background()), ErrInvalidState)
}

func TestRefreshResubscribes(t *testing.T) {
	f := newFixture(t, echoCompleter{}, WithRefreshInterval(10*time.Millisecond))
	require.NoError(t, f.bot.Connect(context.Background()))
	defer f.bot.Cleanup(context.Background())

	require.Eventually(t, func() bool {
		_, _, subs, _ := f.room.snapshot()
		return subs >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "LISTENING", StateListening.String())
	assert.Equal(t, "UNKNOWN", State(42).String())

	data, err := json.Marshal(Stats{State: StateCleaningUp})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"CLEANING_UP"`)
}
