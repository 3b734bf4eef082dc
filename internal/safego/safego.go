// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. This should be used for all
// fire-and-forget goroutines (balance refreshes, async probe follow-ups, etc.)
// where an unrecovered panic would silently kill the goroutine forever.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}

// GoAfter launches fn like Go, but waits for delay first. Used to stagger
// follow-up work behind a burst of upstream calls, e.g. refreshing balances
// shortly after a bulk connection probe.
func GoAfter(delay time.Duration, fn func()) {
	Go(func() {
		time.Sleep(delay)
		fn()
	})
}
