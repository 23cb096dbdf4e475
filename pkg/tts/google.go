package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// Google implements Provider for Google Cloud Text-to-Speech.
type Google struct {
	config  *Config
	service *texttospeech.Service
	logger  *slog.Logger
}

// NewGoogle creates a Google Cloud TTS provider. Credentials come from
// ClientOptions; see GoogleCredentialsFile for the common case.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.OutputFormat = EncodingMP3
	cfg.PersonaVoices = map[string]string{}
	for p, v := range DefaultGooglePersonaVoices {
		cfg.PersonaVoices[p] = v
	}
	cfg.Apply(opts...)

	// Without explicit options the client falls back to application default
	// credentials.
	clientOpts := append([]option.ClientOption(nil), cfg.ClientOptions...)
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:  cfg,
		service: svc,
		logger:  cfg.Logger.With("component", "tts.google"),
	}, nil
}

// GoogleCredentialsFile returns an option that authenticates with a service
// account JSON file.
func GoogleCredentialsFile(ctx context.Context, path string) (Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, texttospeech.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return WithClientOptions(option.WithCredentials(creds)), nil
}

// Name implements Provider.
func (g *Google) Name() string { return providerGoogle }

// Synthesize converts text to MP3 audio.
func (g *Google) Synthesize(ctx context.Context, req Request) (*AudioResult, error) {
	start := time.Now()
	voice := g.config.voiceFor(req, isGoogleVoice)

	params := &texttospeech.VoiceSelectionParams{LanguageCode: g.config.LanguageCode}
	if voice != "" {
		params.Name = voice
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	resp, err := g.service.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input:       &texttospeech.SynthesisInput{Text: req.Text},
		Voice:       params,
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, g.wrapError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", voice,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1},
		Provider:  providerGoogle,
		Voice:     voice,
		CharCount: len(req.Text),
		LatencyMs: latency,
		Duration:  estimateDuration(EncodingMP3, len(audio)),
	}, nil
}

// Stream falls back to Synthesize.
func (g *Google) Stream(ctx context.Context, req Request) (AudioStream, error) {
	result, err := g.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health lists voices for the configured locale.
func (g *Google) Health(ctx context.Context) error {
	if _, err := g.service.Voices.List().LanguageCode(g.config.LanguageCode).Context(ctx).Do(); err != nil {
		return g.wrapError(err)
	}
	return nil
}

// Close is a no-op.
func (g *Google) Close() error {
	return nil
}

func (g *Google) wrapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &APIError{StatusCode: gErr.Code, Message: gErr.Message, Provider: providerGoogle}
	}
	return WrapError(providerGoogle, err)
}

var _ Provider = (*Google)(nil)
