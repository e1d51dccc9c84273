package waitflow

import "time"

// Config holds definition-level execution parameters
type Config struct {
	// Retry policy. MaxRetries is the total number of attempts a step
	// execution gets before the instance fails.
	MaxRetries   int
	RetryDelayMs int
	RetryBackoff BackoffStrategy

	// Per-attempt timeout; also the age after which the timeout scan reports
	// a waiting or running instance
	StepTimeoutMs int

	// Cap on created, running and waiting instances of the definition
	MaxConcurrentInstances int
}

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "LINEAR"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
	BackoffNone        BackoffStrategy = "NONE"
)

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	MaxRetries:             3,
	RetryDelayMs:           1000,
	RetryBackoff:           BackoffLinear,
	StepTimeoutMs:          300000,
	MaxConcurrentInstances: 10,
}

// StepTimeout returns the per-attempt timeout as a duration
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// Attempts returns the effective number of attempts (at least one)
func (c Config) Attempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// Option configures a definition's Config
type Option func(*Config)

// WithRetries sets the total attempts per step
func WithRetries(max int) Option {
	return func(c *Config) {
		c.MaxRetries = max
	}
}

// WithRetryDelay sets the base retry delay
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelayMs = int(d.Milliseconds())
	}
}

// WithBackoff sets the retry backoff strategy
func WithBackoff(strategy BackoffStrategy) Option {
	return func(c *Config) {
		c.RetryBackoff = strategy
	}
}

// WithStepTimeout sets the per-attempt step timeout
func WithStepTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.StepTimeoutMs = int(d.Milliseconds())
	}
}

// WithMaxConcurrentInstances sets the instance cap
func WithMaxConcurrentInstances(n int) Option {
	return func(c *Config) {
		c.MaxConcurrentInstances = n
	}
}

// StartOption allows functional configuration of Start
type StartOption func(*StartOptions)

// StartOptions holds options for starting an instance
type StartOptions struct {
	InstanceID string
	Tags       map[string]string
}

// WithInstanceID uses a caller-chosen instance id instead of a generated one
func WithInstanceID(id string) StartOption {
	return func(opts *StartOptions) {
		opts.InstanceID = id
	}
}

// WithTags sets custom tags for the instance
func WithTags(tags map[string]string) StartOption {
	return func(opts *StartOptions) {
		opts.Tags = tags
	}
}
