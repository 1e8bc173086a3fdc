package timex

import (
	"time"

	"rmt-go/x/mathx"
)

const nsPerSecond = uint64(time.Second)

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return nsPerSecond / uint64(freqHz)
}

// NsToTicks converts a nanosecond span into ticks of a clock running at hz,
// truncating like the hardware threshold registers do.
func NsToTicks(ns uint64, hz uint32) uint64 {
	return mathx.MulDiv(ns, uint64(hz), nsPerSecond)
}

// TicksToNs converts ticks of a clock running at hz into nanoseconds.
func TicksToNs(ticks uint64, hz uint32) uint64 {
	return mathx.MulDiv(ticks, nsPerSecond, uint64(hz))
}

// Span converts ticks at hz into a time.Duration.
func Span(ticks uint64, hz uint32) time.Duration {
	return time.Duration(TicksToNs(ticks, hz))
}
