package tts

import "strings"

// ElevenLabsVoices maps preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"lily":      "pFZP5JQG7iQjIQuC4Bku", // British female, warm
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
	"sam":       "yoZ06aMxZJJ28mfd3POQ", // American male, raspy
}

// DefaultPersonaVoices are the ElevenLabs presets used when a persona has no
// configured voice.
var DefaultPersonaVoices = map[string]string{
	"adina": "rachel",
	"rafa":  "josh",
}

// ResolveElevenLabsVoice returns the voice ID for a preset name,
// or the input unchanged if it is already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// IsElevenLabsPreset returns true if the name is a known preset.
func IsElevenLabsPreset(name string) bool {
	_, ok := ElevenLabsVoices[strings.ToLower(name)]
	return ok
}

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

var openAIVoices = map[string]bool{
	VoiceAlloy: true, VoiceEcho: true, VoiceFable: true,
	VoiceOnyx: true, VoiceNova: true, VoiceShimmer: true,
}

// DefaultOpenAIPersonaVoices map personas to OpenAI voices for fallback speech.
var DefaultOpenAIPersonaVoices = map[string]string{
	"adina": VoiceShimmer,
	"rafa":  VoiceOnyx,
}

// isOpenAIVoice reports whether v is a built-in OpenAI voice.
func isOpenAIVoice(v string) bool {
	return openAIVoices[v]
}

// DefaultGooglePersonaVoices map personas to Google Cloud voices.
var DefaultGooglePersonaVoices = map[string]string{
	"adina": "en-US-Neural2-F",
	"rafa":  "en-US-Neural2-D",
}

// isGoogleVoice reports whether v looks like a Google voice name such as
// "en-US-Neural2-F".
func isGoogleVoice(v string) bool {
	parts := strings.Split(v, "-")
	return len(parts) >= 4 && len(parts[0]) == 2 && len(parts[1]) == 2
}
