package engine

import "fmt"

// Config holds the configuration for generation sessions
type Config struct {
	MaxModelLen      int
	DefaultMaxTokens int
	PromptCacheSize  int
}

// ConfigOption is a functional option for Config
type ConfigOption func(*Config)

// NewConfig creates a new Config with default values
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		MaxModelLen:      4096,
		DefaultMaxTokens: 256,
		PromptCacheSize:  128,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.MaxModelLen < 1 {
		return fmt.Errorf("max_model_len must be >= 1, got %d", c.MaxModelLen)
	}

	if c.DefaultMaxTokens < 1 || c.DefaultMaxTokens > c.MaxModelLen {
		return fmt.Errorf("default_max_tokens must be in [1, %d], got %d", c.MaxModelLen, c.DefaultMaxTokens)
	}

	if c.PromptCacheSize < 0 {
		return fmt.Errorf("prompt_cache_size must be >= 0, got %d", c.PromptCacheSize)
	}

	return nil
}

// WithMaxModelLen sets the maximum combined prompt and completion length
func WithMaxModelLen(n int) ConfigOption {
	return func(c *Config) {
		c.MaxModelLen = n
	}
}

// WithDefaultMaxTokens sets the per-turn token budget used when the client gives none
func WithDefaultMaxTokens(n int) ConfigOption {
	return func(c *Config) {
		c.DefaultMaxTokens = n
	}
}

// WithPromptCacheSize sets the number of history entries kept in the prompt cache
func WithPromptCacheSize(n int) ConfigOption {
	return func(c *Config) {
		c.PromptCacheSize = n
	}
}
