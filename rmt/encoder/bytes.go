package encoder

import (
	"rmt-go/errcode"
	"rmt-go/rmt/symbol"
)

// BytesConfig describes the symbol shape of a 0 bit and a 1 bit.
type BytesConfig struct {
	Bit0     symbol.Symbol
	Bit1     symbol.Symbol
	MSBFirst bool
}

// BytesEncoder substitutes every payload bit with the configured shape.
type BytesEncoder struct {
	cfg     BytesConfig
	byteOff int
	bitOff  int
}

// NewBytesEncoder validates cfg and returns a bytes encoder. A bit shape
// containing a zero duration would end the frame early and is rejected.
func NewBytesEncoder(cfg BytesConfig) (*BytesEncoder, error) {
	if cfg.Bit0.IsEnd() || cfg.Bit1.IsEnd() {
		return nil, errcode.New(errcode.InvalidArgument, "new_bytes_encoder", "bit shape has zero duration")
	}
	return &BytesEncoder{cfg: cfg}, nil
}

func (e *BytesEncoder) shape(b byte, bit int) symbol.Symbol {
	if e.cfg.MSBFirst {
		bit = 7 - bit
	}
	if b&(1<<bit) != 0 {
		return e.cfg.Bit1
	}
	return e.cfg.Bit0
}

func (e *BytesEncoder) Encode(w symbol.Writer, data []byte) (int, State) {
	n := 0
	for e.byteOff < len(data) {
		for e.bitOff < 8 {
			if w.Free() == 0 {
				return n, MemFull
			}
			w.Write(e.shape(data[e.byteOff], e.bitOff))
			n++
			e.bitOff++
		}
		e.bitOff = 0
		e.byteOff++
	}
	e.byteOff, e.bitOff = 0, 0
	return n, memState(w, Complete)
}

func (e *BytesEncoder) Reset() error {
	e.byteOff, e.bitOff = 0, 0
	return nil
}

func (e *BytesEncoder) Close() error { return e.Reset() }
