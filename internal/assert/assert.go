// Package assert implements fatal contract checks. A failed check logs at
// critical level, with the stack of the offending goroutine, then panics
// with a *Violation. Fiber entry wrappers re-panic violations instead of
// recovering them, so a violation terminates the process.
package assert

import (
	"fmt"
	"runtime/debug"

	"github.com/joeycumines/go-fiberio/internal/logging"
)

// Violation is the panic value of a failed assertion.
type Violation struct {
	Message string
	Stack   string
}

func (v *Violation) Error() string {
	return "assertion failed: " + v.Message
}

// That panics with a *Violation if cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		Fail(format, args...)
	}
}

// Fail unconditionally raises a *Violation.
func Fail(format string, args ...any) {
	v := &Violation{
		Message: fmt.Sprintf(format, args...),
		Stack:   string(debug.Stack()),
	}
	logging.Named("system").Crit().
		Str("stack", v.Stack).
		Log(v.Error())
	panic(v)
}

// IsViolation reports whether a recovered panic value is a *Violation.
func IsViolation(r any) bool {
	_, ok := r.(*Violation)
	return ok
}
