// Package goid resolves the identity of the calling goroutine.
package goid

import (
	"runtime"
)

// Get returns the current goroutine's ID, parsed from the header line of
// runtime.Stack ("goroutine N [running]:").
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
