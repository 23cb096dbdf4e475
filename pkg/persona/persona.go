// Package persona defines the static character configuration shared by every
// session that speaks as a given persona.
//
// Personas are loaded once per process, validated, and then treated as
// read-only. The two built-in personas are Adina and Rafa; their text can be
// overridden from YAML files without recompiling.
package persona

import (
	"errors"
	"fmt"
	"strings"
)

// Names of the built-in personas.
const (
	Adina = "adina"
	Rafa  = "rafa"
)

// Default model parameters applied when a persona leaves them unset.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150
)

var (
	// ErrUnknownPersona is returned when a persona name is not registered.
	ErrUnknownPersona = errors.New("persona: unknown persona")

	// ErrInvalidConfig is returned when a persona fails validation.
	ErrInvalidConfig = errors.New("persona: invalid configuration")
)

// Config is the immutable configuration of one persona.
type Config struct {
	// Name is the lowercase identifier used in URLs and bot identities.
	Name string `yaml:"name" json:"name"`

	// DisplayName is how the persona refers to itself.
	DisplayName string `yaml:"display_name" json:"displayName"`

	// SystemPrompt opens every composed prompt.
	SystemPrompt string `yaml:"system_prompt" json:"-"`

	// Tone and Style are appended as labelled lines when present.
	Tone  string `yaml:"tone" json:"tone,omitempty"`
	Style string `yaml:"style" json:"style,omitempty"`

	// ContextPrompt is optional background appended after tone/style.
	ContextPrompt string `yaml:"context_prompt" json:"-"`

	// ResponsePrefixes are role labels stripped from model output.
	ResponsePrefixes []string `yaml:"response_prefixes" json:"-"`

	// Voice is the TTS voice identifier (ElevenLabs voice id or preset name).
	Voice string `yaml:"voice" json:"voice,omitempty"`

	// Model parameters for the completion service.
	Model       string   `yaml:"model" json:"model,omitempty"`
	Temperature float32  `yaml:"temperature" json:"temperature"`
	MaxTokens   int      `yaml:"max_tokens" json:"maxTokens"`
	Stop        []string `yaml:"stop" json:"-"`
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("%w: %s: system prompt is required", ErrInvalidConfig, c.Name)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %s: temperature must be between 0 and 2", ErrInvalidConfig, c.Name)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: %s: max tokens must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

// withDefaults fills unset model parameters.
func (c Config) withDefaults() Config {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.DisplayName == "" {
		c.DisplayName = strings.ToUpper(c.Name[:1]) + c.Name[1:]
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if len(c.ResponsePrefixes) == 0 {
		c.ResponsePrefixes = []string{"Assistant:", c.DisplayName + ":"}
	}
	return c
}
