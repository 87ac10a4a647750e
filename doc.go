// Package fiberio is a cooperative fiber runtime: user-level coroutines
// ([fiber]), an M:N scheduler and epoll reactor ([scheduler]), timers
// ([timer]), per-descriptor bookkeeping ([fdmanager]) and wrappers that
// turn blocking system calls into fiber yields ([hook]).
//
// A typical program creates an IOManager and schedules work on it:
//
//	iom, err := scheduler.NewIOManager(2, false, "main")
//	if err != nil {
//		panic(err)
//	}
//	defer iom.Close()
//	iom.ScheduleFunc(func() {
//		hook.Sleep(1) // parks this fiber, not the worker
//	}, scheduler.AnyThread)
//
// This package only carries process-wide settings.
package fiberio
