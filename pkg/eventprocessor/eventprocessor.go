package eventprocessor

import (
	"fmt"
	"time"
)

// Config contains configuration attributes for an event processor.
type Config struct {
	BatchFailedExecutionBackoff time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BatchFailedExecutionBackoff: time.Second * 10,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithBatchFailedExecutionBackoff provides a sleep duration between
// retryable batch executions, e.g. when the underlying database is
// temporarily unavailable.
func WithBatchFailedExecutionBackoff(backoff time.Duration) Option {
	return func(c *Config) error {
		if backoff.Seconds() < 1 {
			return fmt.Errorf("backoff is too low (<1s)")
		}
		c.BatchFailedExecutionBackoff = backoff
		return nil
	}
}

// EventProcessor processes new events detected by an event feed.
type EventProcessor interface {
	Start() error
	Stop()
}
