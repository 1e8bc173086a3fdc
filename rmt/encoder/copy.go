package encoder

import "rmt-go/rmt/symbol"

// CopyEncoder emits a pre-formed symbol slice verbatim.
type CopyEncoder struct {
	off int
}

// NewCopyEncoder returns a copy encoder.
func NewCopyEncoder() *CopyEncoder { return &CopyEncoder{} }

func (e *CopyEncoder) Encode(w symbol.Writer, syms []symbol.Symbol) (int, State) {
	if e.off >= len(syms) {
		e.off = 0
		return 0, Complete
	}
	n := w.Write(syms[e.off:]...)
	e.off += n
	if e.off < len(syms) {
		return n, MemFull
	}
	e.off = 0
	return n, memState(w, Complete)
}

func (e *CopyEncoder) Reset() error { e.off = 0; return nil }
func (e *CopyEncoder) Close() error { e.off = 0; return nil }
