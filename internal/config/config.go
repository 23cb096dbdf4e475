// Package config loads the runtime configuration of the persona voice service.
//
// Values come from environment variables (PERSONA_* first, then the bare
// provider names such as OPENAI_API_KEY), an optional config file, and
// command-line flags bound by cmd/persona-voice. Missing completion
// credentials are tolerated; missing room, STT or TTS credentials disable
// voice sessions and are reported by VoiceReady.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Environment prefix for every key.
const EnvPrefix = "PERSONA"

// Defaults.
const (
	DefaultAddr             = ":8080"
	DefaultLogLevel         = "info"
	DefaultUtteranceTimeout = 30 * time.Second
	DefaultRefreshInterval  = 5 * time.Second
	DefaultConnectTimeout   = 15 * time.Second
	DefaultChatRatePerMin   = 30
	DefaultQueueSize        = 8
	DefaultDeepgramModel    = "nova-2"
)

// Config is the configuration to start the server.
type Config struct {
	// Mode is "dev" or "prod".
	Mode string
	// Addr is the HTTP listen address.
	Addr     string
	LogLevel string
	// PublicURL is the externally reachable base URL, used to build clip URLs.
	// Empty means broadcasts carry data URIs.
	PublicURL string
	// PersonaDir holds optional persona YAML overrides.
	PersonaDir string

	LiveKitURL       string // PERSONA_LIVEKIT_URL / LIVEKIT_URL
	LiveKitAPIKey    string // PERSONA_LIVEKIT_API_KEY / LIVEKIT_API_KEY
	LiveKitAPISecret string // PERSONA_LIVEKIT_API_SECRET / LIVEKIT_API_SECRET

	DeepgramAPIKey string // PERSONA_DEEPGRAM_API_KEY / DEEPGRAM_API_KEY
	DeepgramModel  string

	OpenAIAPIKey  string // PERSONA_OPENAI_API_KEY / OPENAI_API_KEY
	OpenAIBaseURL string
	OpenAIModel   string

	ElevenLabsAPIKey string // PERSONA_ELEVENLABS_API_KEY / ELEVENLABS_API_KEY
	ElevenLabsModel  string
	// Voices maps persona name to ElevenLabs voice id (PERSONA_VOICE_ADINA, ...).
	Voices map[string]string

	// GoogleCredentialsFile enables the Google TTS fallback when set.
	GoogleCredentialsFile string
	// OpenAITTSFallback enables the OpenAI TTS fallback provider.
	OpenAITTSFallback bool

	UtteranceTimeout time.Duration
	RefreshInterval  time.Duration
	ConnectTimeout   time.Duration
	QueueSize        int
	ChatRatePerMin   int
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Mode != "prod"
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("deepgram_model", DefaultDeepgramModel)
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("elevenlabs_model", "eleven_turbo_v2_5")
	v.SetDefault("utterance_timeout", DefaultUtteranceTimeout)
	v.SetDefault("refresh_interval", DefaultRefreshInterval)
	v.SetDefault("connect_timeout", DefaultConnectTimeout)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("chat_rate_per_min", DefaultChatRatePerMin)
	v.SetDefault("openai_tts_fallback", false)
}

// NewViper returns a viper instance wired to the environment with defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the configuration from v. When file is non-empty it is merged
// first; environment variables and flags win over file values.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", file)
		}
	}

	c := &Config{
		Mode:       v.GetString("mode"),
		Addr:       v.GetString("addr"),
		LogLevel:   v.GetString("log_level"),
		PublicURL:  strings.TrimRight(v.GetString("public_url"), "/"),
		PersonaDir: v.GetString("persona_dir"),

		LiveKitURL:       stringWithFallback(v, "livekit_url", "LIVEKIT_URL"),
		LiveKitAPIKey:    stringWithFallback(v, "livekit_api_key", "LIVEKIT_API_KEY"),
		LiveKitAPISecret: stringWithFallback(v, "livekit_api_secret", "LIVEKIT_API_SECRET"),

		DeepgramAPIKey: stringWithFallback(v, "deepgram_api_key", "DEEPGRAM_API_KEY"),
		DeepgramModel:  v.GetString("deepgram_model"),

		OpenAIAPIKey:  stringWithFallback(v, "openai_api_key", "OPENAI_API_KEY"),
		OpenAIBaseURL: v.GetString("openai_base_url"),
		OpenAIModel:   v.GetString("openai_model"),

		ElevenLabsAPIKey: stringWithFallback(v, "elevenlabs_api_key", "ELEVENLABS_API_KEY"),
		ElevenLabsModel:  v.GetString("elevenlabs_model"),
		Voices:           map[string]string{},

		GoogleCredentialsFile: stringWithFallback(v, "google_credentials_file", "GOOGLE_APPLICATION_CREDENTIALS"),
		OpenAITTSFallback:     v.GetBool("openai_tts_fallback"),

		UtteranceTimeout: v.GetDuration("utterance_timeout"),
		RefreshInterval:  v.GetDuration("refresh_interval"),
		ConnectTimeout:   v.GetDuration("connect_timeout"),
		QueueSize:        v.GetInt("queue_size"),
		ChatRatePerMin:   v.GetInt("chat_rate_per_min"),
	}

	for _, name := range []string{"adina", "rafa"} {
		if id := v.GetString("voice_" + name); id != "" {
			c.Voices[name] = id
		}
	}
	for k, id := range v.GetStringMapString("voices") {
		c.Voices[strings.ToLower(k)] = id
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// stringWithFallback reads key through viper, then falls back to a bare
// provider variable so stock .env files keep working.
func stringWithFallback(v *viper.Viper, key, legacy string) string {
	if val := v.GetString(key); val != "" {
		return val
	}
	return os.Getenv(legacy)
}

// Validate normalizes the configuration and checks values that would make
// the server unusable. Missing credentials are not errors here.
func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "prod" {
		c.Mode = "dev"
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.UtteranceTimeout <= 0 {
		c.UtteranceTimeout = DefaultUtteranceTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ChatRatePerMin < 0 {
		return errors.Errorf("chat rate must not be negative, got %d", c.ChatRatePerMin)
	}
	if c.PersonaDir != "" {
		dir, err := filepath.Abs(c.PersonaDir)
		if err != nil {
			return errors.Wrapf(err, "invalid persona dir %s", c.PersonaDir)
		}
		if _, err := os.Stat(dir); err != nil {
			return errors.Wrapf(err, "unable to access persona dir %s", dir)
		}
		c.PersonaDir = dir
	}
	return nil
}

// SpeechReady reports whether at least one TTS provider is configured.
func (c *Config) SpeechReady() bool {
	return c.ElevenLabsAPIKey != "" ||
		(c.OpenAITTSFallback && c.OpenAIAPIKey != "") ||
		c.GoogleCredentialsFile != ""
}

// VoiceReady reports whether every credential a voice session needs is set.
// The returned error lists what is missing.
func (c *Config) VoiceReady() error {
	missing := []string{}
	if c.LiveKitURL == "" {
		missing = append(missing, "LIVEKIT_URL")
	}
	if c.LiveKitAPIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if c.LiveKitAPISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if c.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if !c.SpeechReady() {
		missing = append(missing, "a TTS provider (ELEVENLABS_API_KEY, OPENAI_API_KEY with openai_tts_fallback, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}
