package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PERSONA_ADDR", "")
	c, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, c.Addr)
	assert.Equal(t, "dev", c.Mode)
	assert.True(t, c.IsDev())
	assert.Equal(t, DefaultUtteranceTimeout, c.UtteranceTimeout)
	assert.Equal(t, DefaultRefreshInterval, c.RefreshInterval)
	assert.Equal(t, DefaultQueueSize, c.QueueSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PERSONA_MODE", "prod")
	t.Setenv("PERSONA_ADDR", ":9000")
	t.Setenv("PERSONA_UTTERANCE_TIMEOUT", "12s")
	t.Setenv("PERSONA_VOICE_RAFA", "voice-rafa")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("PERSONA_PUBLIC_URL", "https://example.com/")

	c, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.False(t, c.IsDev())
	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, 12*time.Second, c.UtteranceTimeout)
	assert.Equal(t, "voice-rafa", c.Voices["rafa"])
	assert.Equal(t, "sk-legacy", c.OpenAIAPIKey)
	assert.Equal(t, "https://example.com", c.PublicURL)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "persona.yaml")
	require.NoError(t, os.WriteFile(file, []byte("addr: \":7000\"\nvoices:\n  Adina: voice-a\n"), 0o600))

	c, err := Load(NewViper(), file)
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.Addr)
	assert.Equal(t, "voice-a", c.Voices["adina"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateNormalizes(t *testing.T) {
	c := &Config{Mode: "weird"}
	require.NoError(t, c.Validate())
	assert.Equal(t, "dev", c.Mode)
	assert.Equal(t, DefaultAddr, c.Addr)

	c = &Config{ChatRatePerMin: -1}
	assert.Error(t, c.Validate())

	c = &Config{PersonaDir: filepath.Join(t.TempDir(), "missing")}
	assert.Error(t, c.Validate())
}

func TestVoiceReady(t *testing.T) {
	c := &Config{}
	err := c.VoiceReady()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVEKIT_URL")
	assert.Contains(t, err.Error(), "DEEPGRAM_API_KEY")

	c = &Config{
		LiveKitURL:       "wss://lk",
		LiveKitAPIKey:    "key",
		LiveKitAPISecret: "secret",
		DeepgramAPIKey:   "dg",
		ElevenLabsAPIKey: "el",
	}
	assert.NoError(t, c.VoiceReady())
}

func TestVoiceReadyAcceptsAnyTTSProvider(t *testing.T) {
	base := Config{
		LiveKitURL:       "wss://lk",
		LiveKitAPIKey:    "key",
		LiveKitAPISecret: "secret",
		DeepgramAPIKey:   "dg",
	}

	none := base
	err := none.VoiceReady()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTS provider")
	assert.False(t, none.SpeechReady())

	google := base
	google.GoogleCredentialsFile = "/etc/creds.json"
	assert.NoError(t, google.VoiceReady())

	openai := base
	openai.OpenAIAPIKey = "sk"
	assert.Error(t, openai.VoiceReady(), "openai key alone does not enable speech")
	openai.OpenAITTSFallback = true
	assert.NoError(t, openai.VoiceReady())
}
