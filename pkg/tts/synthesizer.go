package tts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-persona/pkg/persona"
)

// Synthesizer speaks text in a persona's voice.
type Synthesizer struct {
	provider Provider
	voices   map[string]string
	logger   *slog.Logger
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithVoices overrides persona voices. Entries win over persona.Config.Voice.
func WithVoices(voices map[string]string) SynthesizerOption {
	return func(s *Synthesizer) {
		for p, v := range voices {
			if v != "" {
				s.voices[strings.ToLower(p)] = v
			}
		}
	}
}

// WithSynthesizerLogger sets the logger.
func WithSynthesizerLogger(l *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) { s.logger = l }
}

// NewSynthesizer wraps a provider (often a Chain).
func NewSynthesizer(p Provider, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		provider: p,
		voices:   make(map[string]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tts.Synthesizer")
	return s
}

// Provider returns the underlying provider.
func (s *Synthesizer) Provider() Provider {
	return s.provider
}

// Voice resolves the voice for a persona: explicit override, then the
// persona's configured voice, then the built-in preset.
func (s *Synthesizer) Voice(p *persona.Config) string {
	if v, ok := s.voices[p.Name]; ok {
		return v
	}
	if p.Voice != "" {
		return p.Voice
	}
	return DefaultPersonaVoices[p.Name]
}

func (s *Synthesizer) request(text string, p *persona.Config) (Request, error) {
	if p == nil {
		return Request{}, ErrNoPersona
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Request{}, ErrEmptyText
	}
	return Request{Text: text, Voice: s.Voice(p), Persona: p.Name}, nil
}

// Synthesize returns the complete audio for text in the persona's voice.
// Failures mean this utterance cannot be spoken; they are not fatal to the
// caller's session.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, p *persona.Config) (*AudioResult, error) {
	req, err := s.request(text, p)
	if err != nil {
		return nil, err
	}
	res, err := s.provider.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("speech ready",
		"persona", p.Name,
		"provider", res.Provider,
		"bytes", len(res.Audio),
		"latency_ms", res.LatencyMs,
	)
	return res, nil
}

// Stream returns chunked audio for text in the persona's voice.
func (s *Synthesizer) Stream(ctx context.Context, text string, p *persona.Config) (AudioStream, error) {
	req, err := s.request(text, p)
	if err != nil {
		return nil, err
	}
	return s.provider.Stream(ctx, req)
}
