// Package encoder converts application payloads into RMT symbol streams.
//
// Encoders are resumable: when the channel memory runs out mid-frame,
// Encode returns MemFull and the driver calls the same encoder again with the
// same payload once room frees up. The encoder continues from the state it
// recorded, it never restarts the frame. Composite encoders keep a phase
// field and own the sub-encoders they chain, so re-entry resumes the last
// active sub-encoder call.
package encoder

import "rmt-go/rmt/symbol"

// State reports the outcome of one Encode call.
type State uint8

const (
	// Complete means the payload has been fully consumed.
	Complete State = 1 << iota
	// MemFull means the writer ran out of room; call Encode again later.
	MemFull
)

// Has reports whether every bit in f is set.
func (s State) Has(f State) bool { return s&f == f }

func (s State) String() string {
	switch s {
	case 0:
		return "partial"
	case Complete:
		return "complete"
	case MemFull:
		return "mem_full"
	case Complete | MemFull:
		return "complete|mem_full"
	}
	return "invalid"
}

// Encoder turns a payload of type P into symbols.
//
// An encoder may be reused for sequential transmissions but never shared by
// two in-flight transactions.
type Encoder[P any] interface {
	// Encode writes as many symbols as fit into w and returns how many were
	// written in this call together with the session state.
	Encode(w symbol.Writer, payload P) (int, State)
	// Reset returns the encoder to the start of a frame.
	Reset() error
	// Close releases the encoder and the sub-encoders it owns.
	Close() error
}

// memState adds MemFull when the writer has no room left.
func memState(w symbol.Writer, st State) State {
	if w.Free() == 0 {
		st |= MemFull
	}
	return st
}
