package encoder

import (
	"rmt-go/errcode"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// NECScanCode is one NEC infrared frame. For standard NEC the high byte of
// each field is the bitwise complement of the low byte.
type NECScanCode struct {
	Address uint16
	Command uint16
}

// NECStandard builds a scan code with the inverted bytes filled in.
func NECStandard(addr, cmd uint8) NECScanCode {
	return NECScanCode{
		Address: uint16(addr) | uint16(^addr)<<8,
		Command: uint16(cmd) | uint16(^cmd)<<8,
	}
}

// NEC timings in microseconds.
const (
	NECLeadingHighUs = 9000
	NECLeadingLowUs  = 4500
	NECBitHighUs     = 560
	NECBit0LowUs     = 560
	NECBit1LowUs     = 1690
	NECEndingHighUs  = 560
)

const (
	necLeading = iota
	necAddress
	necCommand
	necEnding
)

// NECEncoder emits leading code, address, command and ending code.
type NECEncoder struct {
	phase   int
	copy    *CopyEncoder
	bytes   *BytesEncoder
	leading []symbol.Symbol
	ending  []symbol.Symbol
}

// NewNECEncoder returns an NEC encoder for a channel running at resolutionHz.
// The resolution must give at least one tick per microsecond.
func NewNECEncoder(resolutionHz uint32) (*NECEncoder, error) {
	if resolutionHz < 1_000_000 {
		return nil, errcode.New(errcode.InvalidArgument, "new_nec_encoder", "resolution below 1 MHz")
	}
	us := func(v uint64) uint32 { return uint32(timex.NsToTicks(v*1000, resolutionHz)) }
	be, err := NewBytesEncoder(BytesConfig{
		Bit0: symbol.New(1, us(NECBitHighUs), 0, us(NECBit0LowUs)),
		Bit1: symbol.New(1, us(NECBitHighUs), 0, us(NECBit1LowUs)),
	})
	if err != nil {
		return nil, err
	}
	return &NECEncoder{
		copy:    NewCopyEncoder(),
		bytes:   be,
		leading: []symbol.Symbol{symbol.New(1, us(NECLeadingHighUs), 0, us(NECLeadingLowUs))},
		ending:  []symbol.Symbol{symbol.New(1, us(NECEndingHighUs), 0, symbol.MaxDuration)},
	}, nil
}

func (e *NECEncoder) Encode(w symbol.Writer, code NECScanCode) (int, State) {
	total := 0
	addr := []byte{byte(code.Address), byte(code.Address >> 8)}
	cmd := []byte{byte(code.Command), byte(code.Command >> 8)}
	for {
		var n int
		var st State
		switch e.phase {
		case necLeading:
			n, st = e.copy.Encode(w, e.leading)
		case necAddress:
			n, st = e.bytes.Encode(w, addr)
		case necCommand:
			n, st = e.bytes.Encode(w, cmd)
		case necEnding:
			n, st = e.copy.Encode(w, e.ending)
		}
		total += n
		if st.Has(Complete) {
			if e.phase == necEnding {
				e.phase = necLeading
				return total, st
			}
			e.phase++
		}
		if st.Has(MemFull) {
			return total, MemFull
		}
	}
}

func (e *NECEncoder) Reset() error {
	e.phase = necLeading
	e.copy.Reset()
	return e.bytes.Reset()
}

func (e *NECEncoder) Close() error {
	e.copy.Close()
	return e.bytes.Close()
}
