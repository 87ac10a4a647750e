package fiberio

import (
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fiberio/internal/logging"
)

// SetLogger replaces the logger used by every package of this module. A
// nil logger disables logging. The default writes JSON lines to stderr at
// the informational level.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	logging.Set(logger)
}

// Logger returns the logger set by [SetLogger], which may be nil.
func Logger() *logiface.Logger[logiface.Event] {
	return logging.Get()
}

// NewLogger builds a logger in the default format at the given level.
func NewLogger(level logiface.Level) *logiface.Logger[logiface.Event] {
	return logging.NewDefault(level)
}
