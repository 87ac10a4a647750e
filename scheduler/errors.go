package scheduler

import (
	"errors"
)

var (
	// ErrInvalidThreads is returned when a scheduler is created without
	// any worker.
	ErrInvalidThreads = errors.New("scheduler: thread count must be positive")

	// ErrCallerBound is returned when useCaller is requested on a
	// goroutine that already belongs to a scheduler.
	ErrCallerBound = errors.New("scheduler: caller already bound to a scheduler")

	// ErrEpoll wraps failed epoll_ctl calls.
	ErrEpoll = errors.New("scheduler: epoll_ctl failed")
)
