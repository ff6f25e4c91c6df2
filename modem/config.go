package modem

import (
	"log/slog"
	"time"
)

// Config holds the settings used by New. Use ConfigBuilder to create one.
type Config struct {
	dialer      Dialer
	atTimeout   time.Duration
	initTimeout time.Duration
	urcPrefixes []string
	urcBuffer   int
	// lateWindow is how long the loop waits for the final result of a
	// timed out command before accepting the next one
	lateWindow time.Duration
	logger     *slog.Logger
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
	if c.urcBuffer == 0 {
		c.urcBuffer = 100
	}
	if c.lateWindow == 0 {
		c.lateWindow = 2 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns an empty builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport to the modem is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithATTimeout sets the default time a command may take to reach its
// final result code.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithInitTimeout bounds the whole initialization sequence run by New.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithURCPrefixes registers additional line prefixes that the modem emits
// as unsolicited result codes, e.g. "+APP PDP:".
func (b *ConfigBuilder) WithURCPrefixes(prefixes ...string) *ConfigBuilder {
	b.config.urcPrefixes = append(b.config.urcPrefixes, prefixes...)
	return b
}

// WithURCBuffer sets how many URCs may queue up before new ones are dropped.
func (b *ConfigBuilder) WithURCBuffer(n int) *ConfigBuilder {
	b.config.urcBuffer = n
	return b
}

// WithLateResultWindow sets how long a timed out command may still answer.
// Its late final result is discarded instead of being taken for the answer
// of the next command. Defaults to 2 seconds.
func (b *ConfigBuilder) WithLateResultWindow(d time.Duration) *ConfigBuilder {
	b.config.lateWindow = d
	return b
}

// WithLogger sets the logger used for command tracing and dropped URCs.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
