package stt

import (
	"context"
	"sync"
)

// Mock is a Listener for tests. Streams it opens are kept so tests can emit
// transcripts into them.
type Mock struct {
	// OpenFunc, if set, replaces the default Open.
	OpenFunc func(ctx context.Context, connectionID string) (Stream, error)

	mu      sync.Mutex
	streams []*MockStream
}

// NewMock creates a mock listener.
func NewMock() *Mock {
	return &Mock{}
}

// Open returns a new MockStream.
func (m *Mock) Open(ctx context.Context, connectionID string) (Stream, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, connectionID)
	}
	s := NewMockStream(connectionID)
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far.
func (m *Mock) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// Last returns the most recently opened stream, or nil.
func (m *Mock) Last() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// MockStream records audio and lets tests emit transcripts.
type MockStream struct {
	id string

	// SendFunc, if set, is called for every chunk; use it to simulate a
	// slow backend.
	SendFunc func(chunk []byte) error

	mu       sync.Mutex
	callback func(Transcript)
	chunks   [][]byte
	closed   int
}

// NewMockStream creates a stream with the given id.
func NewMockStream(id string) *MockStream {
	return &MockStream{id: id}
}

func (s *MockStream) ID() string { return s.id }

func (s *MockStream) OnTranscript(fn func(Transcript)) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

func (s *MockStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed > 0 {
		s.mu.Unlock()
		return ErrClosed
	}
	send := s.SendFunc
	s.mu.Unlock()

	if send != nil {
		if err := send(chunk); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	return nil
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// Emit delivers a finalized transcript to the registered callback. It
// reports whether a callback was registered.
func (s *MockStream) Emit(text string) bool {
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(Transcript{ConnectionID: s.id, Text: text, Confidence: 1})
	return true
}

// Chunks returns the audio chunks received.
func (s *MockStream) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// CloseCount returns how many times Close was called.
func (s *MockStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ Listener = (*Mock)(nil)
	_ Stream   = (*MockStream)(nil)
)
