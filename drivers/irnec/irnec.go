// Package irnec sends and receives NEC infrared remote frames over RMT
// channels.
package irnec

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"rmt-go/rmt"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

// ErrNotNEC is returned by Decode for symbol runs that are not NEC frames.
var ErrNotNEC = errors.New("irnec: not an NEC frame")

// Repeat code timings in microseconds.
const (
	RepeatLeadingHighUs = 9000
	RepeatLeadingLowUs  = 2250
)

// Receive window: anything shorter is a glitch, a gap longer ends the frame.
const (
	GlitchNs = 1250
	IdleNs   = 12_000_000
)

// Frame is one decoded transmission.
type Frame struct {
	Code   encoder.NECScanCode
	Repeat bool
}

// Valid reports whether the inverted bytes of a standard NEC frame match.
func (f Frame) Valid() bool {
	a, c := f.Code.Address, f.Code.Command
	return byte(a) == ^byte(a>>8) && byte(c) == ^byte(c>>8)
}

func (f Frame) String() string {
	if f.Repeat {
		return "repeat"
	}
	return fmt.Sprintf("addr=%04x cmd=%04x", f.Code.Address, f.Code.Command)
}

// Transmitter sends scan codes on a TX channel.
type Transmitter struct {
	tx     *rmt.TxChannel
	enc    *encoder.NECEncoder
	repeat []symbol.Symbol
}

// NewTransmitter builds the NEC encoder for tx. The channel needs at least
// 1 MHz resolution.
func NewTransmitter(tx *rmt.TxChannel) (*Transmitter, error) {
	enc, err := encoder.NewNECEncoder(tx.ResolutionHz())
	if err != nil {
		return nil, err
	}
	us := func(v uint64) uint32 { return uint32(timex.NsToTicks(v*1000, tx.ResolutionHz())) }
	return &Transmitter{
		tx:  tx,
		enc: enc,
		repeat: []symbol.Symbol{
			symbol.New(1, us(RepeatLeadingHighUs), 0, us(RepeatLeadingLowUs)),
			symbol.New(1, us(encoder.NECEndingHighUs), 0, 0),
		},
	}, nil
}

// Send queues one frame.
func (t *Transmitter) Send(ctx context.Context, code encoder.NECScanCode) error {
	return rmt.Transmit(ctx, t.tx, t.enc, code, rmt.TransmitConfig{})
}

// Repeat queues the short "key held" code.
func (t *Transmitter) Repeat(ctx context.Context) error {
	return rmt.Transmit(ctx, t.tx, encoder.NewCopyEncoder(), t.repeat, rmt.TransmitConfig{})
}

// Close releases the encoder.
func (t *Transmitter) Close() error { return t.enc.Close() }

// Decode parses a received symbol run. Durations may be off by 25%.
func Decode(syms []symbol.Symbol, resolutionHz uint32) (Frame, error) {
	us := func(ticks uint16) uint64 { return timex.TicksToNs(uint64(ticks), resolutionHz) / 1000 }
	near := func(ticks uint16, want uint64) bool {
		got := us(ticks)
		return got*4 >= want*3 && got*4 <= want*5
	}
	if len(syms) == 0 || !near(syms[0].Duration0, encoder.NECLeadingHighUs) {
		return Frame{}, ErrNotNEC
	}
	lead := syms[0]
	if len(syms) == 2 && near(lead.Duration1, RepeatLeadingLowUs) {
		return Frame{Repeat: true}, nil
	}
	if len(syms) < 34 || !near(lead.Duration1, encoder.NECLeadingLowUs) {
		return Frame{}, ErrNotNEC
	}
	var bits uint32
	for i := 0; i < 32; i++ {
		s := syms[1+i]
		if !near(s.Duration0, encoder.NECBitHighUs) {
			return Frame{}, ErrNotNEC
		}
		switch {
		case near(s.Duration1, encoder.NECBit1LowUs):
			bits |= 1 << i
		case near(s.Duration1, encoder.NECBit0LowUs):
		default:
			return Frame{}, ErrNotNEC
		}
	}
	return Frame{Code: encoder.NECScanCode{Address: uint16(bits), Command: uint16(bits >> 16)}}, nil
}

// Receiver decodes frames from an RX channel. Frames are delivered on a
// buffered channel; when nobody reads it they are dropped and counted.
type Receiver struct {
	rx      *rmt.RxChannel
	buf     []symbol.Symbol
	frames  chan Frame
	dropped atomic.Uint32
	bad     atomic.Uint32
}

// NewReceiver registers on rx, which must be disabled. depth sizes the frame
// channel; 0 means 4.
func NewReceiver(rx *rmt.RxChannel, depth int) (*Receiver, error) {
	if depth <= 0 {
		depth = 4
	}
	r := &Receiver{
		rx:     rx,
		buf:    make([]symbol.Symbol, 64),
		frames: make(chan Frame, depth),
	}
	if err := rx.RegisterEventCallbacks(rmt.RxEventCallbacks{OnRecvDone: r.onDone}); err != nil {
		return nil, err
	}
	return r, nil
}

// Start enables the channel and arms the first receive.
func (r *Receiver) Start() error {
	if err := r.rx.Enable(); err != nil {
		return err
	}
	return r.arm()
}

// Stop disables the channel.
func (r *Receiver) Stop() error { return r.rx.Disable() }

func (r *Receiver) arm() error {
	return r.rx.Receive(r.buf, rmt.ReceiveConfig{SignalRangeMinNs: GlitchNs, SignalRangeMaxNs: IdleNs})
}

// Frames returns the delivery channel.
func (r *Receiver) Frames() <-chan Frame { return r.frames }

// Dropped returns how many decoded frames found the channel full.
func (r *Receiver) Dropped() uint32 { return r.dropped.Load() }

// Invalid returns how many receptions did not decode.
func (r *Receiver) Invalid() uint32 { return r.bad.Load() }

// onDone runs in interrupt context. It must not block.
func (r *Receiver) onDone(rx *rmt.RxChannel, ev rmt.RxDoneEvent) bool {
	f, err := Decode(ev.Symbols, rx.ResolutionHz())
	// Re-arm before delivering so the next frame is not missed.
	if aerr := r.arm(); aerr != nil {
		rmt.Logger().Warn("nec re-arm failed", zap.Error(aerr))
	}
	if err != nil {
		r.bad.Add(1)
		return false
	}
	select {
	case r.frames <- f:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}
