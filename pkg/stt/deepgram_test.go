package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-persona/internal/log"
)

// fakeDeepgram is a websocket server that records what it receives and lets
// the test push result messages.
type fakeDeepgram struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	auth     string
	query    string
	binary   int
	texts    []string
	ready    chan struct{}
	received chan string
}

func newFakeDeepgram(t *testing.T) (*fakeDeepgram, *httptest.Server) {
	f := &fakeDeepgram{t: t, ready: make(chan struct{}), received: make(chan string, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.auth = r.Header.Get("Authorization")
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		close(f.ready)

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			if kind == websocket.BinaryMessage {
				f.binary++
			} else {
				f.texts = append(f.texts, string(data))
			}
			f.mu.Unlock()
			f.received <- string(data)
		}
	}))
	return f, srv
}

func (f *fakeDeepgram) send(msg string) {
	<-f.ready
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		f.t.Errorf("write: %v", err)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewDeepgramRequiresKey(t *testing.T) {
	if _, err := NewDeepgram(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestDeepgramDeliversOnlyFinalTranscripts(t *testing.T) {
	fake, srv := newFakeDeepgram(t)
	defer srv.Close()

	dg, err := NewDeepgram(
		WithAPIKey("dg-key"),
		WithBaseURL(wsURL(srv)),
		WithKeepAlive(0),
		WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewDeepgram: %v", err)
	}

	stream, err := dg.Open(context.Background(), "r1-1700000000000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	if stream.ID() != "r1-1700000000000" {
		t.Errorf("ID() = %q", stream.ID())
	}

	got := make(chan Transcript, 4)
	stream.OnTranscript(func(tr Transcript) { got <- tr })

	fake.send(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I feel"}]}}`)
	fake.send(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"   "}]}}`)
	fake.send(`{"type":"Metadata"}`)
	fake.send(`not json`)
	fake.send(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" I feel anxious ","confidence":0.93}]}}`)

	select {
	case tr := <-got:
		if tr.Text != "I feel anxious" {
			t.Errorf("Text = %q", tr.Text)
		}
		if tr.ConnectionID != "r1-1700000000000" || tr.Confidence != 0.93 {
			t.Errorf("unexpected transcript: %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	select {
	case tr := <-got:
		t.Errorf("unexpected extra transcript: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}

	fake.mu.Lock()
	auth, query := fake.auth, fake.query
	fake.mu.Unlock()
	if auth != "Token dg-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if !strings.Contains(query, "encoding=linear16") || !strings.Contains(query, "sample_rate=16000") {
		t.Errorf("query = %q", query)
	}
}

func TestDeepgramSendAndClose(t *testing.T) {
	fake, srv := newFakeDeepgram(t)
	defer srv.Close()

	dg, _ := NewDeepgram(WithAPIKey("k"), WithBaseURL(wsURL(srv)), WithKeepAlive(0), WithLogger(log.Discard()))
	stream, err := dg.Open(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := stream.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	<-fake.received

	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := stream.SendAudio([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendAudio after close = %v, want ErrClosed", err)
	}

	select {
	case msg := <-fake.received:
		if msg != `{"type":"CloseStream"}` {
			t.Errorf("close message = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CloseStream not received")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.binary != 1 {
		t.Errorf("binary frames = %d, want 1", fake.binary)
	}
}

func TestDeepgramKeepAlive(t *testing.T) {
	fake, srv := newFakeDeepgram(t)
	defer srv.Close()

	dg, _ := NewDeepgram(WithAPIKey("k"), WithBaseURL(wsURL(srv)), WithKeepAlive(10*time.Millisecond), WithLogger(log.Discard()))
	stream, err := dg.Open(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	select {
	case msg := <-fake.received:
		if msg != `{"type":"KeepAlive"}` {
			t.Errorf("message = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}

func TestDeepgramOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	dg, _ := NewDeepgram(WithAPIKey("bad"), WithBaseURL(wsURL(srv)), WithLogger(log.Discard()))
	stream, err := dg.Open(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want HTTP status", err)
	}
	if stream != nil {
		t.Error("expected nil stream on failure")
	}
}

func TestMockStream(t *testing.T) {
	m := NewMock()
	s, _ := m.Open(context.Background(), "c1")
	ms := m.Last()

	if ms.Emit("dropped") {
		t.Error("Emit without callback should report false")
	}

	var got []string
	s.OnTranscript(func(tr Transcript) { got = append(got, tr.Text) })
	ms.Emit("hello")
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("got = %v", got)
	}

	_ = s.SendAudio([]byte{1, 2})
	_ = s.Close()
	_ = s.Close()
	if len(ms.Chunks()) != 1 || ms.CloseCount() != 2 {
		t.Errorf("chunks=%d closes=%d", len(ms.Chunks()), ms.CloseCount())
	}
	if err := s.SendAudio([]byte{3}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendAudio after close = %v", err)
	}
}
