package tts

import (
	"log/slog"
	"time"

	"google.golang.org/api/option"
)

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	APIKey  string
	BaseURL string

	// VoiceID is the fallback voice when a request names none.
	VoiceID string
	ModelID string

	// PersonaVoices maps persona names to provider voices. Used when a
	// request's voice is empty or foreign to the provider.
	PersonaVoices map[string]string

	VoiceSettings VoiceSettings
	OutputFormat  Encoding

	// LanguageCode is used by providers that select voices by locale.
	LanguageCode string

	Timeout       time.Duration
	StreamTimeout time.Duration

	MaxRetries int
	RetryDelay time.Duration

	// ClientOptions are passed to Google API clients.
	ClientOptions []option.ClientOption

	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets the API key for the provider.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithVoice sets the fallback voice.
func WithVoice(voiceID string) Option {
	return func(c *Config) {
		c.VoiceID = voiceID
	}
}

// WithPersonaVoice maps a persona to a provider voice.
func WithPersonaVoice(persona, voice string) Option {
	return func(c *Config) {
		if c.PersonaVoices == nil {
			c.PersonaVoices = make(map[string]string)
		}
		c.PersonaVoices[persona] = voice
	}
}

// WithModel sets the model ID.
func WithModel(modelID string) Option {
	return func(c *Config) {
		c.ModelID = modelID
	}
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) {
		c.OutputFormat = format
	}
}

// WithVoiceSettings sets voice characteristics.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) {
		c.VoiceSettings = settings
	}
}

// WithLanguageCode sets the locale for locale-based voice selection.
func WithLanguageCode(code string) Option {
	return func(c *Config) {
		c.LanguageCode = code
	}
}

// WithTimeout sets the request timeout for non-streaming requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithStreamTimeout sets the timeout for streaming requests.
func WithStreamTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.StreamTimeout = timeout
	}
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithClientOptions adds Google API client options.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *Config) {
		c.ClientOptions = append(c.ClientOptions, opts...)
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration. Broadcast clips are
// MP3 so browsers can play them straight from a data URI.
func DefaultConfig() *Config {
	return &Config{
		ModelID:       ModelTurboV2_5,
		OutputFormat:  EncodingMP3,
		VoiceSettings: DefaultVoiceSettings(),
		LanguageCode:  "en-US",
		Timeout:       30 * time.Second,
		StreamTimeout: 60 * time.Second,
		MaxRetries:    2,
		RetryDelay:    200 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// voiceFor picks the voice for a request: the request's own voice if the
// provider accepts it, then the persona mapping, then the fallback voice.
func (c *Config) voiceFor(req Request, accept func(string) bool) string {
	if req.Voice != "" && (accept == nil || accept(req.Voice)) {
		return req.Voice
	}
	if v, ok := c.PersonaVoices[req.Persona]; ok && v != "" {
		return v
	}
	return c.VoiceID
}
