// Package symbol defines the RMT symbol word, the unit of every channel's
// memory block, and the bounded writer encoders emit into.
package symbol

// MaxDuration is the largest tick count one half of a symbol can hold.
const MaxDuration = 0x7fff

// WordSize is the size of one packed symbol in bytes.
const WordSize = 4

// Symbol is a two-level pulse. Durations are ticks at the channel resolution.
// A zero duration terminates the frame.
type Symbol struct {
	Level0    uint8
	Duration0 uint16
	Level1    uint8
	Duration1 uint16
}

// New builds a symbol, clamping durations into 15 bits.
func New(level0 uint8, d0 uint32, level1 uint8, d1 uint32) Symbol {
	return Symbol{
		Level0:    level0 & 1,
		Duration0: clampDur(d0),
		Level1:    level1 & 1,
		Duration1: clampDur(d1),
	}
}

// EOF is the end-of-transmission marker written after a complete frame.
var EOF = Symbol{}

func clampDur(d uint32) uint16 {
	if d > MaxDuration {
		return MaxDuration
	}
	return uint16(d)
}

// Word packs s into the hardware layout: duration0 in bits 0-14, level0 in
// bit 15, duration1 in bits 16-30, level1 in bit 31.
func (s Symbol) Word() uint32 {
	return uint32(s.Duration0&MaxDuration) |
		uint32(s.Level0&1)<<15 |
		uint32(s.Duration1&MaxDuration)<<16 |
		uint32(s.Level1&1)<<31
}

// FromWord unpacks a hardware word.
func FromWord(w uint32) Symbol {
	return Symbol{
		Duration0: uint16(w & MaxDuration),
		Level0:    uint8(w>>15) & 1,
		Duration1: uint16((w >> 16) & MaxDuration),
		Level1:    uint8(w>>31) & 1,
	}
}

// IsEnd reports whether the hardware stops at this symbol.
func (s Symbol) IsEnd() bool { return s.Duration0 == 0 || s.Duration1 == 0 }

// Ticks returns the total duration of both halves.
func (s Symbol) Ticks() uint32 { return uint32(s.Duration0) + uint32(s.Duration1) }
