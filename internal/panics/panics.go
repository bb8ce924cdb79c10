// Package panics provides a goroutine-panic recovery helper so that a
// panic in any background goroutine is logged with a stack trace and
// turns into a clean process exit instead of a silent goroutine death or
// an unannotated crash.
package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/btcsuite/btclog"
)

const panicHandlerTimeout = 5 * time.Second

// HandlePanic recovers a panic, logs it along with the stack trace
// captured when the owning goroutine was spawned, and exits the process.
// It is a no-op if there is no panic in flight, so it is safe to defer
// unconditionally.
func HandlePanic(log btclog.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		log.Criticalf("Fatal error: %+v", err)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		log.Criticalf("Stack trace: %s", debug.Stack())
		close(done)
	}()

	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "couldn't handle a fatal error in time, exiting")
	case <-done:
	}
	os.Exit(1)
}

// GoroutineWrapperFunc returns a "spawn" helper bound to log: every
// function passed to the returned helper runs in its own goroutine with
// HandlePanic deferred, so a panic anywhere in the sync engine's
// background work is logged instead of taking down the process silently.
func GoroutineWrapperFunc(log btclog.Logger) func(func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// Exit logs reason as the cause of a deliberate shutdown and terminates
// the process with a nonzero exit code.
func Exit(log btclog.Logger, reason string) {
	log.Criticalf("Exiting: %s", reason)
	os.Exit(1)
}
