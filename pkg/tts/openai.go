package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-persona/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI model options.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI implements Provider for OpenAI speech. It always returns MP3.
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI speech provider. Persona voices default to
// DefaultOpenAIPersonaVoices.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceAlloy
	cfg.OutputFormat = EncodingMP3
	cfg.PersonaVoices = map[string]string{}
	for p, v := range DefaultOpenAIPersonaVoices {
		cfg.PersonaVoices[p] = v
	}
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return providerOpenAI }

// Synthesize converts text to MP3 audio.
func (o *OpenAI) Synthesize(ctx context.Context, req Request) (*AudioResult, error) {
	start := time.Now()
	voice := o.config.voiceFor(req, isOpenAIVoice)

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.ModelID),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, o.wrapError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", voice,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1},
		Provider:  providerOpenAI,
		Voice:     voice,
		CharCount: len(req.Text),
		LatencyMs: latency,
		Duration:  estimateDuration(EncodingMP3, len(audio)),
	}, nil
}

// Stream falls back to Synthesize and serves the buffer as one chunk.
func (o *OpenAI) Stream(ctx context.Context, req Request) (AudioStream, error) {
	result, err := o.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health lists models to verify the key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.wrapError(err)
	}
	return nil
}

// Close is a no-op.
func (o *OpenAI) Close() error {
	return nil
}

func (o *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Provider: providerOpenAI}
		if apiErr.Code != nil {
			e.Code = fmt.Sprint(apiErr.Code)
		}
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Provider: providerOpenAI}
	}
	return WrapError(providerOpenAI, err)
}

// bufferStream serves a byte slice as a single-chunk AudioStream.
type bufferStream struct {
	data   []byte
	offset int
	format AudioFormat
}

// Read returns the remaining buffer, then nil.
func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	chunk := s.data[s.offset:]
	s.offset = len(s.data)
	return chunk, nil
}

// Close releases resources.
func (s *bufferStream) Close() error {
	return nil
}

// Format returns the audio format.
func (s *bufferStream) Format() AudioFormat {
	return s.format
}

var _ Provider = (*OpenAI)(nil)
