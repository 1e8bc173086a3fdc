package encoder

import (
	"rmt-go/errcode"
	"rmt-go/rmt/symbol"
)

// SimpleFunc fills out with the next symbols of payload. written is the
// number of symbols produced so far in this frame. It returns how many
// symbols it stored and whether the frame is finished. Returning 0 without
// done asks for more room.
type SimpleFunc[P any] func(payload P, written int, out []symbol.Symbol) (n int, done bool)

// SimpleEncoder adapts a callback to the Encoder contract. The callback is
// never invoked with less than MinChunk symbols of room.
type SimpleEncoder[P any] struct {
	fn       SimpleFunc[P]
	minChunk int
	written  int
	scratch  []symbol.Symbol
}

// NewSimpleEncoder returns a callback-backed encoder. minChunk 0 means 1.
// minChunk must not exceed half of the channel memory block, otherwise the
// encoder can never make progress.
func NewSimpleEncoder[P any](fn SimpleFunc[P], minChunk int) (*SimpleEncoder[P], error) {
	if fn == nil || minChunk < 0 {
		return nil, errcode.New(errcode.InvalidArgument, "new_simple_encoder", "nil callback or negative chunk")
	}
	if minChunk == 0 {
		minChunk = 1
	}
	return &SimpleEncoder[P]{fn: fn, minChunk: minChunk}, nil
}

func (e *SimpleEncoder[P]) Encode(w symbol.Writer, payload P) (int, State) {
	total := 0
	for {
		free := w.Free()
		if free < e.minChunk {
			return total, MemFull
		}
		if cap(e.scratch) < free {
			e.scratch = make([]symbol.Symbol, free)
		}
		out := e.scratch[:free]
		n, done := e.fn(payload, e.written, out)
		if n > free {
			n = free
		}
		w.Write(out[:n]...)
		e.written += n
		total += n
		if done {
			e.written = 0
			return total, memState(w, Complete)
		}
		if n == 0 {
			return total, MemFull
		}
	}
}

func (e *SimpleEncoder[P]) Reset() error { e.written = 0; return nil }
func (e *SimpleEncoder[P]) Close() error { e.written = 0; e.scratch = nil; return nil }
