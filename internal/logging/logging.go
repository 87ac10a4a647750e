// Package logging holds the process-wide logger shared by every package in
// this module.
package logging

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type holder struct {
	logger *logiface.Logger[logiface.Event]
}

var (
	current atomic.Pointer[holder]

	// limiter gates noisy error paths, keyed by an arbitrary category.
	limiter = catrate.NewLimiter(map[time.Duration]int{
		time.Second:     5,
		time.Minute:     60,
		time.Minute * 5: 120,
	})
)

func init() {
	Set(NewDefault(logiface.LevelInformational))
}

// NewDefault builds the default logger, writing JSON lines to stderr.
func NewDefault(level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// Set replaces the process-wide logger. A nil logger disables logging.
func Set(logger *logiface.Logger[logiface.Event]) {
	current.Store(&holder{logger: logger})
}

// Get returns the process-wide logger, which may be nil. All builder
// methods on a nil logger are no-ops.
func Get() *logiface.Logger[logiface.Event] {
	return current.Load().logger
}

// Named returns the process-wide logger tagged with a "logger" field.
func Named(name string) *logiface.Logger[logiface.Event] {
	l := Get()
	if l == nil {
		return nil
	}
	return l.Clone().Str("logger", name).Logger()
}

// Allow reports whether an event in the given category may be logged now.
func Allow(category any) bool {
	_, ok := limiter.Allow(category)
	return ok
}
