// Package tts turns persona replies into speech.
//
// Providers (ElevenLabs, OpenAI, Google) implement the Provider interface and
// receive the voice per request, so one provider instance serves every
// persona. A Chain tries providers in order; a Synthesizer resolves the voice
// for a persona and is what the voice pipeline talks to.
//
//	el, _ := tts.NewElevenLabs(tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")))
//	syn := tts.NewSynthesizer(el)
//	result, _ := syn.Synthesize(ctx, "Peace be with you", adina)
//	url := result.DataURI()
package tts

import (
	"context"
	"encoding/base64"
	"time"
)

// Request is one synthesis request.
type Request struct {
	// Text to speak.
	Text string

	// Voice is the provider voice identifier. Empty means the provider default.
	Voice string

	// Persona names the speaking persona so providers can map it to one of
	// their own voices when Voice is foreign to them.
	Persona string
}

// Provider is a text-to-speech backend.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, req Request) (*AudioResult, error)

	// Stream converts text to audio, returning chunks as they arrive.
	Stream(ctx context.Context, req Request) (AudioStream, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream is a streaming audio response.
// Callers read until Read returns a nil chunk, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk, or nil when the stream is complete.
	Read() ([]byte, error)

	Close() error

	Format() AudioFormat
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio  []byte
	Format AudioFormat

	// Provider that produced the audio.
	Provider string

	// Voice actually used.
	Voice string

	// Duration is the estimated playback duration.
	Duration time.Duration

	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// MIMEType returns the content type of the audio.
func (r *AudioResult) MIMEType() string {
	return r.Format.Encoding.MIMEType()
}

// DataURI encodes the audio as a base64 data URI.
func (r *AudioResult) DataURI() string {
	return "data:" + r.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(r.Audio)
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding identifies an audio encoding. Values match ElevenLabs
// output_format names.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	EncodingMP3  Encoding = "mp3_44100_128"
	EncodingOpus Encoding = "opus"
	EncodingULaw Encoding = "ulaw_8000"
)

// MIMEType returns the content type for the encoding.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	case EncodingOpus:
		return "audio/opus"
	case EncodingULaw:
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// IsPCM reports whether the encoding is raw 16-bit PCM.
func (e Encoding) IsPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	// Stability (0.0-1.0): lower is more expressive, higher more consistent.
	Stability float64

	// SimilarityBoost (0.0-1.0): how closely to match the original voice.
	SimilarityBoost float64

	// Style exaggeration (0.0-1.0).
	Style float64

	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for spoken replies.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 24000
	}
}

// estimateDuration estimates playback time from the encoded size.
func estimateDuration(enc Encoding, size int) time.Duration {
	switch {
	case enc.IsPCM():
		samples := size / 2
		return time.Duration(float64(samples) / float64(SampleRateFromEncoding(enc)) * float64(time.Second))
	case enc == EncodingMP3:
		// 128 kbps
		return time.Duration(float64(size*8) / 128000 * float64(time.Second))
	case enc == EncodingULaw:
		return time.Duration(float64(size) / 8000 * float64(time.Second))
	default:
		return 0
	}
}
