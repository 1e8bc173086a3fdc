package encoder

import (
	"rmt-go/errcode"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// WS2812 bit timings in nanoseconds and the latch (reset) time.
const (
	LEDT0HNs    = 300
	LEDT0LNs    = 900
	LEDT1HNs    = 900
	LEDT1LNs    = 300
	LEDResetNs  = 50_000
	ledMinResHz = 10_000_000
)

const (
	ledPixels = iota
	ledReset
)

// LEDStripEncoder emits GRB pixel bytes MSB first followed by the latch code.
type LEDStripEncoder struct {
	phase int
	bytes *BytesEncoder
	copy  *CopyEncoder
	reset []symbol.Symbol
}

// NewLEDStripEncoder returns an addressable-LED encoder. The resolution must
// be at least 10 MHz to express the sub-microsecond bit timings.
func NewLEDStripEncoder(resolutionHz uint32) (*LEDStripEncoder, error) {
	if resolutionHz < ledMinResHz {
		return nil, errcode.New(errcode.InvalidArgument, "new_led_strip_encoder", "resolution below 10 MHz")
	}
	t := func(ns uint64) uint32 { return uint32(timex.NsToTicks(ns, resolutionHz)) }
	be, err := NewBytesEncoder(BytesConfig{
		Bit0:     symbol.New(1, t(LEDT0HNs), 0, t(LEDT0LNs)),
		Bit1:     symbol.New(1, t(LEDT1HNs), 0, t(LEDT1LNs)),
		MSBFirst: true,
	})
	if err != nil {
		return nil, err
	}
	half := t(LEDResetNs) / 2
	return &LEDStripEncoder{
		bytes: be,
		copy:  NewCopyEncoder(),
		reset: []symbol.Symbol{symbol.New(0, half, 0, half)},
	}, nil
}

func (e *LEDStripEncoder) Encode(w symbol.Writer, grb []byte) (int, State) {
	total := 0
	if e.phase == ledPixels {
		n, st := e.bytes.Encode(w, grb)
		total += n
		if st.Has(Complete) {
			e.phase = ledReset
		}
		if st.Has(MemFull) {
			return total, MemFull
		}
	}
	n, st := e.copy.Encode(w, e.reset)
	total += n
	if st.Has(Complete) {
		e.phase = ledPixels
	}
	return total, st
}

func (e *LEDStripEncoder) Reset() error {
	e.phase = ledPixels
	e.copy.Reset()
	return e.bytes.Reset()
}

func (e *LEDStripEncoder) Close() error {
	e.copy.Close()
	return e.bytes.Close()
}
