package scheduler

import (
	"errors"
	"time"
)

// DefaultMaxWait bounds a single reactor wait, so an idle IOManager
// re-checks its state at least this often.
const DefaultMaxWait = 3 * time.Second

// DefaultMaxEvents is the number of epoll events read per wait.
const DefaultMaxEvents = 256

type options struct {
	hookEnabled bool
	maxWait     time.Duration
	maxEvents   int
}

// Option configures a [Scheduler] or [IOManager].
type Option interface {
	applyOption(*options) error
}

type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) applyOption(opts *options) error {
	return o.applyFunc(opts)
}

// WithHookEnabled sets whether worker threads enable the hook layer
// for the fibers they run. IOManager workers default to enabled, plain
// Scheduler workers to disabled.
func WithHookEnabled(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.hookEnabled = enabled
		return nil
	}}
}

// WithMaxWait caps a single reactor wait. Ignored by a plain Scheduler.
func WithMaxWait(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return errors.New("scheduler: max wait must be positive")
		}
		opts.maxWait = d
		return nil
	}}
}

// WithMaxEvents sets the epoll event buffer size. Ignored by a plain
// Scheduler.
func WithMaxEvents(n int) Option {
	return &optionImpl{func(opts *options) error {
		if n <= 0 {
			return errors.New("scheduler: max events must be positive")
		}
		opts.maxEvents = n
		return nil
	}}
}

func resolveOptions(cfg *options, opts []Option) (*options, error) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
