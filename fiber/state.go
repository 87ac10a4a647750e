package fiber

import (
	"strconv"
)

// State is the lifecycle state of a [Fiber].
//
//	StateInit  → StateExec                 [SwapIn]
//	StateExec  → StateReady | StateHold    [YieldToReady, YieldToHold, SwapOut]
//	StateReady → StateExec                 [SwapIn]
//	StateHold  → StateExec                 [SwapIn]
//	StateExec  → StateTerm | StateExcept   [entry returned or panicked]
//	StateTerm | StateExcept | StateInit → StateInit [Reset]
type State int32

const (
	// StateInit indicates the fiber is allocated but has not run.
	StateInit State = iota
	// StateHold indicates the fiber yielded and waits for something else
	// (an I/O event, a timer) to schedule it again.
	StateHold
	// StateExec indicates the fiber is running.
	StateExec
	// StateTerm indicates the entry function returned.
	StateTerm
	// StateReady indicates the fiber yielded and may be dispatched again.
	StateReady
	// StateExcept indicates the entry function panicked.
	StateExcept
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHold:
		return "HOLD"
	case StateExec:
		return "EXEC"
	case StateTerm:
		return "TERM"
	case StateReady:
		return "READY"
	case StateExcept:
		return "EXCEPT"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Done reports whether the state is StateTerm or StateExcept.
func (s State) Done() bool {
	return s == StateTerm || s == StateExcept
}

// Resumable reports whether [Fiber.SwapIn] accepts the state.
func (s State) Resumable() bool {
	return s == StateInit || s == StateReady || s == StateHold
}

// Resettable reports whether [Fiber.Reset] accepts the state.
func (s State) Resettable() bool {
	return s == StateInit || s == StateTerm || s == StateExcept
}
