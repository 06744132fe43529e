package engine

import (
	"log/slog"
	"time"
)

type config struct {
	blockSize      uint64
	maxAttempts    int
	validationMode ValidationMode
	logger         *slog.Logger
	retryBaseDelay time.Duration
}

func defaultConfig() config {
	return config{
		blockSize:      0, // tm.DefaultBlockSize
		maxAttempts:    8,
		validationMode: ValidateOnCommit,
		logger:         slog.Default(),
		retryBaseDelay: 10 * time.Millisecond,
	}
}

// ValidationMode selects when a transaction validates the module set.
type ValidationMode int

const (
	// ValidateOnCommit validates once, at end-of-transaction, the default
	// for this substrate since frame locks already serialize conflicting
	// access as it happens.
	ValidateOnCommit ValidationMode = iota
	// ValidateEager is accepted by WithValidationMode, but the engine
	// does not read the configured mode: every transaction validates
	// once, at commit, whichever mode is set.
	ValidateEager
)

// Option configures an Engine.
type Option func(*config)

// WithBlockSize sets the transactional memory substrate's block size.
// Zero (the default) uses tm.DefaultBlockSize.
func WithBlockSize(n uint64) Option {
	return func(c *config) { c.blockSize = n }
}

// WithMaxAttempts sets how many failed revocable attempts Run makes
// before escalating the next attempt to irrevocable mode. Defaults to 8.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithValidationMode selects the validation strategy.
func WithValidationMode(m ValidationMode) Option {
	return func(c *config) { c.validationMode = m }
}

// WithLogger installs a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryBaseDelay sets the base delay for the Fibonacci backoff used
// on recoverable ERRNO faults.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryBaseDelay = d
		}
	}
}
