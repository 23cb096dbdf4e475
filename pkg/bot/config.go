package bot

import (
	"log/slog"
	"time"
)

// Defaults for a Participant.
const (
	DefaultUtteranceTimeout = 30 * time.Second
	DefaultRefreshInterval  = 5 * time.Second
	DefaultQueueSize        = 8
	DefaultConnectTimeout   = 15 * time.Second
)

// Config holds Participant tuning.
type Config struct {
	// UtteranceTimeout bounds the whole prompt → completion → speech →
	// broadcast pipeline for one transcript.
	UtteranceTimeout time.Duration

	// RefreshInterval is how often room participants are re-subscribed.
	RefreshInterval time.Duration

	// ConnectTimeout bounds Connect's room and transcript setup.
	ConnectTimeout time.Duration

	// QueueSize bounds pending transcripts. When full, new transcripts
	// are dropped.
	QueueSize int

	Logger *slog.Logger
}

// Option configures a Participant.
type Option func(*Config)

// WithUtteranceTimeout sets the per-utterance timeout.
func WithUtteranceTimeout(d time.Duration) Option {
	return func(c *Config) { c.UtteranceTimeout = d }
}

// WithRefreshInterval sets the subscription refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Config) { c.RefreshInterval = d }
}

// WithConnectTimeout sets the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithQueueSize sets the transcript queue size.
func WithQueueSize(n int) Option {
	return func(c *Config) { c.QueueSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		UtteranceTimeout: DefaultUtteranceTimeout,
		RefreshInterval:  DefaultRefreshInterval,
		ConnectTimeout:   DefaultConnectTimeout,
		QueueSize:        DefaultQueueSize,
		Logger:           slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
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
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
