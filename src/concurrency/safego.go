package concurrency

import (
	"runtime/debug"

	"latencyd/src/logging"

	"github.com/sirupsen/logrus"
)

// GoSafe runs fn in a new goroutine and recovers from panics, logging the
// panic and stack via the project's `Log`. Panics are logged; process
// lifecycle (restarts) should be handled by the runtime/container.
func GoSafe(fn func()) {
	go Run(fn)
}

// Run calls fn on the current goroutine and swallows any panic after logging it.
// It reports whether fn returned normally.
func Run(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logging.Log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("recovered panic in background goroutine")
		}
	}()
	fn()
	return true
}
