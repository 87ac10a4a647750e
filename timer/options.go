package timer

import (
	"time"
)

// Option configures a [Manager].
type Option interface {
	applyOption(*options)
}

type options struct {
	clock             func() time.Time
	onInsertedAtFront func()
}

type optionImpl struct {
	fn func(*options)
}

func (o *optionImpl) applyOption(opts *options) { o.fn(opts) }

// WithClock overrides time.Now, e.g. to simulate clock adjustments.
func WithClock(now func() time.Time) Option {
	return &optionImpl{func(opts *options) {
		opts.clock = now
	}}
}

// WithOnInsertedAtFront sets a hook invoked, outside of any lock, when a
// new timer becomes the earliest pending one.
func WithOnInsertedAtFront(fn func()) Option {
	return &optionImpl{func(opts *options) {
		opts.onInsertedAtFront = fn
	}}
}

func resolveOptions(opts []Option) *options {
	cfg := &options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt.applyOption(cfg)
		}
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return cfg
}
