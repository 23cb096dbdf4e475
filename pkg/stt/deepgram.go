package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramURL = "wss://api.deepgram.com/v1/listen"

	// KeepAliveInterval keeps idle connections open; the service closes
	// them after roughly ten seconds without audio.
	KeepAliveInterval = 8 * time.Second

	writeTimeout = 5 * time.Second
)

// Config holds Deepgram configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	SampleRate int
	Encoding   string

	// KeepAlive overrides KeepAliveInterval.
	KeepAlive time.Duration

	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Option configures the Deepgram listener.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the websocket endpoint.
func WithBaseURL(u string) Option {
	return func(c *Config) { c.BaseURL = u }
}

// WithModel sets the recognition model.
func WithModel(m string) Option {
	return func(c *Config) { c.Model = m }
}

// WithSampleRate sets the PCM sample rate of sent audio.
func WithSampleRate(hz int) Option {
	return func(c *Config) { c.SampleRate = hz }
}

// WithKeepAlive sets the keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAlive = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for 16 kHz mono PCM16 audio.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          deepgramURL,
		Model:            "nova-2",
		Language:         "en-US",
		SampleRate:       16000,
		Encoding:         "linear16",
		KeepAlive:        KeepAliveInterval,
		HandshakeTimeout: 10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Deepgram is a Listener backed by Deepgram live transcription.
type Deepgram struct {
	config *Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDeepgram creates a listener. A missing key fails here, at construction.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deepgram{
		config: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.With("component", "stt.Deepgram"),
	}, nil
}

func (d *Deepgram) endpoint() string {
	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("language", d.config.Language)
	q.Set("encoding", d.config.Encoding)
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	return d.config.BaseURL + "?" + q.Encode()
}

// Open dials a new live transcription connection.
func (d *Deepgram) Open(ctx context.Context, connectionID string) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stt: dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stt: dial: %w", err)
	}

	s := &deepgramStream{
		id:     connectionID,
		conn:   conn,
		logger: d.logger.With("connection", connectionID),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go s.keepAlive(d.config.KeepAlive)

	d.logger.Debug("transcript stream opened", "connection", connectionID)
	return s, nil
}

// deepgramStream is one live connection.
type deepgramStream struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	cbMu     sync.RWMutex
	callback func(Transcript)

	closeOnce sync.Once
	done      chan struct{}
}

type resultMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) ID() string { return s.id }

func (s *deepgramStream) OnTranscript(fn func(Transcript)) {
	s.cbMu.Lock()
	s.callback = fn
	s.cbMu.Unlock()
}

func (s *deepgramStream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	return s.write(websocket.BinaryMessage, chunk)
}

func (s *deepgramStream) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(kind, data)
}

func (s *deepgramStream) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("transcript stream read ended", "error", err)
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed message", "error", err)
			continue
		}
		if msg.Type != "Results" || !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		alt := msg.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}

		s.cbMu.RLock()
		cb := s.callback
		s.cbMu.RUnlock()
		if cb != nil {
			cb(Transcript{
				ConnectionID: s.id,
				Text:         text,
				Confidence:   alt.Confidence,
				Received:     time.Now(),
			})
		}
	}
}

func (s *deepgramStream) keepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.logger.Debug("keep-alive failed", "error", err)
			}
		}
	}
}

// Close asks the service to flush, then closes the socket.
func (s *deepgramStream) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		close(s.done)
		err = s.conn.Close()
		s.logger.Debug("transcript stream closed")
	})
	return err
}

var (
	_ Listener = (*Deepgram)(nil)
	_ Stream   = (*deepgramStream)(nil)
)
