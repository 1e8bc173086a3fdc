package rmt

import (
	"errors"

	"rmt-go/hal"
	"rmt-go/rmt/symbol"
)

// ErrQueueFull is the cause carried when a non-blocking Transmit finds no
// free transaction descriptor.
var ErrQueueFull = errors.New("transaction queue full")

// TxChannelConfig describes a transmit channel.
type TxChannelConfig struct {
	GPIO         int
	ClockSource  hal.ClockSource
	ResolutionHz uint32
	// MemBlockSymbols is the channel memory in symbols; 0 selects the
	// variant default. With DMA it sizes the DMA ring instead.
	MemBlockSymbols int
	// TransQueueDepth is the number of transactions that can be pending.
	TransQueueDepth int
	// IntrPriority 1..3 pins the group interrupt priority; 0 accepts any.
	IntrPriority int
	WithDMA      bool
	InvertOut    bool
	// IOLoopBack routes the output back to receive channels on the same pin.
	IOLoopBack  bool
	IOOpenDrain bool
}

// RxChannelConfig describes a receive channel.
type RxChannelConfig struct {
	GPIO            int
	ClockSource     hal.ClockSource
	ResolutionHz    uint32
	MemBlockSymbols int
	IntrPriority    int
	WithDMA         bool
	InvertIn        bool
}

// TransmitConfig controls one transaction.
type TransmitConfig struct {
	// LoopCount is 0 for a single shot, N>0 to replay N times, -1 forever.
	LoopCount int
	// EOTLevel is the line level once the transaction ends.
	EOTLevel uint8
	// QueueNonBlocking fails instead of waiting for a free descriptor.
	QueueNonBlocking bool
}

// ReceiveConfig controls one receive session.
type ReceiveConfig struct {
	// SignalRangeMinNs: pulses shorter than this are treated as glitches.
	SignalRangeMinNs uint64
	// SignalRangeMaxNs: a level held longer than this ends the frame.
	SignalRangeMaxNs uint64
	// EnablePartialRx delivers frames larger than the buffer in pieces.
	EnablePartialRx bool
}

// CarrierConfig is modulation (TX) or demodulation (RX) setup.
type CarrierConfig struct {
	FrequencyHz uint32
	DutyCycle   float32
	// PolarityActiveLow modulates the low level instead of the high level.
	PolarityActiveLow bool
	// AlwaysOn keeps the carrier running while the line is idle.
	AlwaysOn bool
}

// TxDoneEvent reports a finished transaction.
type TxDoneEvent struct {
	// NumSymbols counts the symbols written, including the end marker.
	NumSymbols int
}

// TxEventCallbacks run in interrupt context. Returning true asks the
// interrupt controller to yield before resuming.
type TxEventCallbacks struct {
	OnTransDone func(ch *TxChannel, ev TxDoneEvent) bool
}

// RxDoneEvent carries received symbols. Symbols aliases the caller's buffer.
type RxDoneEvent struct {
	Symbols []symbol.Symbol
	// IsLast is false for intermediate pieces of a partial receive.
	IsLast bool
}

// RxEventCallbacks run in interrupt context.
type RxEventCallbacks struct {
	OnRecvDone func(ch *RxChannel, ev RxDoneEvent) bool
}
