//go:build linux

// Package hook provides cooperative versions of blocking system calls.
//
// Every function here behaves exactly like its golang.org/x/sys/unix
// counterpart unless hooking is enabled for the calling fiber's thread
// (see [SetEnabled]; IOManager workers enable it by default) and the
// thread belongs to a [scheduler.IOManager]. When hooked, an operation on
// a socket that would block instead registers interest with the
// IOManager, arms a timeout timer if the socket has one, and yields the
// fiber until the descriptor is ready or the timeout fires, at which
// point the call fails with unix.ETIMEDOUT.
//
// Application code must call these wrappers in place of the raw
// syscalls; nothing is intercepted behind its back.
package hook

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fiberio/config"
	"github.com/joeycumines/go-fiberio/fdmanager"
	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/internal/logging"
	"github.com/joeycumines/go-fiberio/scheduler"
)

var (
	connectTimeout = config.Lookup("tcp.connect.timeout", 5000, "tcp connect timeout in milliseconds")

	connectTimeoutMs atomic.Int64
)

func init() {
	connectTimeoutMs.Store(int64(connectTimeout.Value()))
	connectTimeout.AddListener(func(oldValue, newValue int) {
		logger().Info().
			Int("from", oldValue).
			Int("to", newValue).
			Log("hook: tcp connect timeout changed")
		connectTimeoutMs.Store(int64(newValue))
	})
}

func logger() *logiface.Logger[logiface.Event] { return logging.Named("system") }

// IsEnabled reports whether hooking is enabled for the calling fiber.
func IsEnabled() bool {
	f := fiber.Current()
	if f == nil {
		return false
	}
	t := f.Thread()
	return t != nil && t.HookEnabled()
}

// SetEnabled enables or disables hooking for the calling thread.
func SetEnabled(enabled bool) {
	fiber.CurrentThread().SetHookEnabled(enabled)
}

// ConnectTimeout returns the default timeout of [Connect], from the
// tcp.connect.timeout setting, or fdmanager.NoTimeout if negative.
func ConnectTimeout() time.Duration {
	ms := connectTimeoutMs.Load()
	if ms < 0 {
		return fdmanager.NoTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// reactor returns the IOManager to park the calling fiber on, or nil if
// the call must go straight to the kernel: hooking disabled, no
// IOManager, or not inside a fiber that can yield.
func reactor() *scheduler.IOManager {
	f := fiber.Current()
	if f == nil || f.IsRoot() {
		return nil
	}
	if t := f.Thread(); t == nil || !t.HookEnabled() {
		return nil
	}
	return scheduler.GetIOManager()
}
