package queue

import (
	"log/slog"
	"time"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// Defaults for queue construction.
const (
	DefaultDrainInterval = 2 * time.Second
	DefaultMaxRetries    = 3
)

// Config holds queue configuration.
type Config struct {
	DrainInterval time.Duration
	MaxRetries    int
	Logger        *slog.Logger
	Bus           *core.EventBus
}

// Option configures a Queue.
type Option interface {
	applyQueue(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyQueue(c *Config) { f(c) }

// DrainInterval sets the fixed drain interval. The interval is also the
// natural spacing between retries of a failing job.
func DrainInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.DrainInterval = d
		}
	})
}

// MaxRetries sets the default retry budget for enqueued jobs.
// Values are clamped to [0, security.MaxRetries].
func MaxRetries(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxRetries = security.ClampRetries(n)
	})
}

// Logger sets the queue's logger.
func Logger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// Bus sets the event bus queue events are published to.
func Bus(b *core.EventBus) Option {
	return optionFunc(func(c *Config) {
		c.Bus = b
	})
}

// EnqueueOptions holds per-job configuration.
type EnqueueOptions struct {
	Key        string
	MaxRetries int
}

// EnqueueOption modifies EnqueueOptions.
type EnqueueOption interface {
	applyEnqueue(*EnqueueOptions)
}

type enqueueOptionFunc func(*EnqueueOptions)

func (f enqueueOptionFunc) applyEnqueue(o *EnqueueOptions) { f(o) }

// WithKey sets the debounce key. A pending job under the same key is
// silently superseded by this one.
func WithKey(key string) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.Key = key
	})
}

// WithMaxRetries overrides the retry budget for this job.
func WithMaxRetries(n int) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.MaxRetries = security.ClampRetries(n)
	})
}
