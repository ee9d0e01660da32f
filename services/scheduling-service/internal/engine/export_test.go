package engine

import "time"

// SetNow overrides the engine's clock in tests.
func SetNow(e *Engine, fn func() time.Time) {
	e.nowFn = fn
}
