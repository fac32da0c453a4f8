// Package goroutine launches background work that must not take the process
// down when it panics.
package goroutine

import (
	"fmt"
	"runtime/debug"

	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

// SafeGo runs fn on a new goroutine under Guard.
func SafeGo(log logger.Interface, name string, fn func()) {
	go Guard(log, name, fn)()
}

// Guard wraps fn so that a panic inside it is logged with its stack, counted
// in sidecar_recovered_panics_total{goroutine=name} and swallowed.
func Guard(log logger.Interface, name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				telemetry.RecoveredPanics.WithLabelValues(name).Inc()
				log.Errorw("goroutine panicked",
					"goroutine", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}
}
