package symbol

// Writer is the bounded sink an encoder fills. Free reports the room left
// before the channel memory (or DMA ring) is full; Write stores at most Free
// symbols and returns how many were taken.
type Writer interface {
	Free() int
	Write(syms ...Symbol) int
}

// SliceWriter appends into a fixed-capacity slice.
type SliceWriter struct {
	buf []Symbol
	n   int
}

// NewSliceWriter returns a writer with room for capacity symbols.
func NewSliceWriter(capacity int) *SliceWriter {
	return &SliceWriter{buf: make([]Symbol, capacity)}
}

func (w *SliceWriter) Free() int { return len(w.buf) - w.n }

func (w *SliceWriter) Write(syms ...Symbol) int {
	n := copy(w.buf[w.n:], syms)
	w.n += n
	return n
}

// Symbols returns the written prefix.
func (w *SliceWriter) Symbols() []Symbol { return w.buf[:w.n] }

// Len returns the number of symbols written.
func (w *SliceWriter) Len() int { return w.n }

// Reset empties the writer, keeping its capacity.
func (w *SliceWriter) Reset() { w.n = 0 }
