// Package ramp steps a level towards a target over time.
package ramp

import (
	"time"

	"rmt-go/x/mathx"
)

// Step receives each new level.
type Step func(level uint16)

// Tick waits for d and reports whether to continue (false => cancelled).
type Tick func(d time.Duration) bool

// Linear moves from cur to to in steps equal increments spread over total.
// steps==0 or total==0 snaps to to. It reports false if tick cancelled the
// ramp; the last level set is then left in place.
func Linear(cur, to uint16, total time.Duration, steps uint16, tick Tick, set Step) bool {
	if steps == 0 || total <= 0 {
		set(to)
		return true
	}
	stepDur := max(total/time.Duration(steps), time.Millisecond)
	lo, hi := min(cur, to), max(cur, to)
	d := int64(to) - int64(cur)
	for i := int64(1); i < int64(steps); i++ {
		if !tick(stepDur) {
			return false
		}
		level := int64(cur) + d*i/int64(steps)
		set(uint16(mathx.Clamp(level, int64(lo), int64(hi))))
	}
	if !tick(stepDur) {
		return false
	}
	set(to)
	return true
}
