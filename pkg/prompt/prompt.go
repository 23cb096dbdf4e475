// Package prompt composes persona prompts and cleans completion output,
// keeping the conversation memory in step with what was actually said.
package prompt

import (
	"strings"

	"github.com/teslashibe/go-persona/pkg/emotion"
	"github.com/teslashibe/go-persona/pkg/memory"
	"github.com/teslashibe/go-persona/pkg/persona"
)

// GuidanceThreshold is the minimum classifier confidence for emotion guidance.
const GuidanceThreshold = 0.6

// Classifier detects the emotion of a user message.
type Classifier interface {
	Classify(text string) emotion.Result
}

// Builder composes prompts for one conversation store.
type Builder struct {
	memory     *memory.Store
	classifier Classifier
}

// Option configures a Builder.
type Option func(*Builder)

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(b *Builder) { b.classifier = c }
}

// NewBuilder creates a builder that reads and writes mem.
func NewBuilder(mem *memory.Store, opts ...Option) *Builder {
	b := &Builder{memory: mem, classifier: emotion.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Memory returns the conversation store backing the builder.
func (b *Builder) Memory() *memory.Store {
	return b.memory
}

// Build composes the full prompt for userMessage and records the message as
// a user turn. A nil persona returns userMessage unchanged and records nothing.
func (b *Builder) Build(userMessage string, p *persona.Config, sessionID string) string {
	if p == nil {
		return userMessage
	}

	var sb strings.Builder
	sb.WriteString(p.SystemPrompt)

	if p.Tone != "" {
		sb.WriteString("\n\nTone: ")
		sb.WriteString(p.Tone)
	}
	if p.Style != "" {
		if p.Tone != "" {
			sb.WriteString("\nStyle: ")
		} else {
			sb.WriteString("\n\nStyle: ")
		}
		sb.WriteString(p.Style)
	}
	if p.ContextPrompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p.ContextPrompt)
	}
	if history := b.memory.Format(sessionID, p.Name); history != "" {
		sb.WriteString("\n\nConversation history:\n")
		sb.WriteString(history)
	}

	sb.WriteString("\n\nUser message: ")
	sb.WriteString(userMessage)

	res := b.classifier.Classify(userMessage)
	if res.Confidence >= GuidanceThreshold && res.Primary != emotion.Neutral {
		if g := Guidance(p.Name, res.Primary); g != "" {
			sb.WriteString("\n\n")
			sb.WriteString(g)
		}
	}

	b.memory.Add(sessionID, p.Name, memory.RoleUser, userMessage)
	return sb.String()
}

// ExtractResponse strips leading role prefixes from raw completion text and
// records the cleaned reply as an assistant turn. Prefixes match
// case-insensitively and are removed repeatedly ("Assistant: Rafa: hi" -> "hi").
// An empty reply is not recorded.
func (b *Builder) ExtractResponse(raw string, p *persona.Config, sessionID string) string {
	text := strings.TrimSpace(raw)
	if p == nil {
		return text
	}
	text = StripPrefixes(text, p.ResponsePrefixes)
	if text != "" {
		b.memory.Add(sessionID, p.Name, memory.RoleAssistant, text)
	}
	return text
}

// StripPrefixes removes any of prefixes from the start of text until none
// match, trimming whitespace after each removal.
func StripPrefixes(text string, prefixes []string) string {
	text = strings.TrimSpace(text)
	for {
		stripped := false
		for _, prefix := range prefixes {
			if prefix == "" || len(text) < len(prefix) {
				continue
			}
			if strings.EqualFold(text[:len(prefix)], prefix) {
				text = strings.TrimSpace(text[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			return text
		}
	}
}
