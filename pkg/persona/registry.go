package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds the validated persona set for the process.
// It is built once and never mutated afterwards, so reads need no locking.
type Registry struct {
	personas map[string]Config
}

// NewRegistry validates and registers the given personas.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{personas: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
		}
		c = c.withDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		r.personas[c.Name] = c
	}
	return r, nil
}

// Default returns a registry with the built-in personas.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(err) // built-ins are static
	}
	return r
}

// Load builds a registry from the built-ins overlaid with every *.yaml or
// *.yml file in dir. Fields set in a file replace the built-in value; a file
// naming an unknown persona adds it. An empty dir yields the built-ins.
func Load(dir string, voices map[string]string) (*Registry, error) {
	base := make(map[string]Config)
	for _, c := range Builtin() {
		base[c.Name] = c
	}

	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
		if err != nil {
			return nil, fmt.Errorf("persona: glob %s: %w", dir, err)
		}
		sort.Strings(files)
		for _, f := range files {
			override, err := readFile(f)
			if err != nil {
				return nil, err
			}
			name := strings.ToLower(strings.TrimSpace(override.Name))
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
			}
			base[name] = merge(base[name], override, name)
		}
	}

	configs := make([]Config, 0, len(base))
	for name, c := range base {
		if v, ok := voices[name]; ok && v != "" {
			c.Voice = v
		}
		configs = append(configs, c)
	}
	return NewRegistry(configs...)
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("persona: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	return c, nil
}

func merge(base, override Config, name string) Config {
	base.Name = name
	if override.DisplayName != "" {
		base.DisplayName = override.DisplayName
	}
	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	if override.Tone != "" {
		base.Tone = override.Tone
	}
	if override.Style != "" {
		base.Style = override.Style
	}
	if override.ContextPrompt != "" {
		base.ContextPrompt = override.ContextPrompt
	}
	if len(override.ResponsePrefixes) > 0 {
		base.ResponsePrefixes = override.ResponsePrefixes
	}
	if override.Voice != "" {
		base.Voice = override.Voice
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		base.MaxTokens = override.MaxTokens
	}
	if len(override.Stop) > 0 {
		base.Stop = override.Stop
	}
	return base
}

// Get returns the persona with the given name (case-insensitive).
func (r *Registry) Get(name string) (Config, error) {
	c, ok := r.personas[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	return c, nil
}

// Lookup returns a pointer to a copy of the persona, or nil if unknown.
func (r *Registry) Lookup(name string) *Config {
	c, err := r.Get(name)
	if err != nil {
		return nil
	}
	return &c
}

// Names returns the registered persona names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for n := range r.personas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
